// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/saferwall/minidump/processor"
	"github.com/saferwall/minidump/stackwalk"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	symbolRoot string
)

func prettyPrint(v interface{}) string {
	buff, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error marshaling result: %v", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buff, "", "\t"); err != nil {
		return string(buff)
	}
	return pretty.String()
}

func process(cmd *cobra.Command, args []string) {
	path := args[0]

	var supplier stackwalk.SymbolSupplier
	if symbolRoot != "" {
		supplier = &stackwalk.SimpleSymbolSupplier{Root: symbolRoot}
	}

	callStack, err := processor.Process(path, supplier)
	if err != nil {
		fmt.Printf("error while processing file: %s, reason: %s\n", path, err)
		os.Exit(1)
	}

	fmt.Println(prettyPrint(callStack))
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "mdprocessor",
		Short: "A minidump stack walker",
		Long:  "A minidump crash-report processor built for speed and automation in mind by Saferwall",
		Run: func(cmd *cobra.Command, args []string) {
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Long:  "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print("You are using version 0.0.1")
		},
	}

	var processCmd = &cobra.Command{
		Use:   "process",
		Short: "Walks a minidump's crashing thread and prints its call stack",
		Long:  "Processes a minidump file and prints the annotated call stack as JSON",
		Args:  cobra.ExactArgs(1),
		Run:   process,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(processCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	processCmd.Flags().StringVarP(&symbolRoot, "symbols", "s", "", "root directory of the symbol store")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
