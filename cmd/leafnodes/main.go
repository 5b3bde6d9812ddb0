// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// leafnodes inspects model files: it prints a summary, the list of nodes and their values, and can
// revise the value of parameters from dense text files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/nodes"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the model: number of nodes, parameters and their sizes.")
	flagNodes   = flag.Bool("nodes", false, "Lists the nodes of the model.")
	flagValues  = flag.Bool("values", false, "Prints the description of each node, including its values.")
	flagRevise  = flag.String("revise", "", "Comma-separated list of <parameter_name>=<file_path>: the values of the "+
		"parameters are reloaded from the dense text files, and the model file is saved back.")
	flagNoColor = flag.Bool("nocolor", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model file to read from. See 'leafnodes -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'leafnodes -help'.")
		os.Exit(1)
	}
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	modelPath := args[0]
	dtype := must.M1(nodes.ModelFileDType(modelPath))
	switch dtype {
	case dtypes.Float32:
		run[float32](modelPath)
	case dtypes.Float64:
		run[float64](modelPath)
	default:
		klog.Errorf("Model file %q has values of dtype %s, which is not supported", modelPath, dtype)
		os.Exit(1)
	}
}

func run[T constraints.Float](modelPath string) {
	m := must.M1(nodes.LoadModelFile[T](modelPath, tensors.CPUDevice))
	if *flagRevise != "" {
		revisions := must.M1(parseRevisions(*flagRevise))
		must.M(applyRevisions(m, revisions))
		must.M(m.SaveFile(modelPath))
		klog.Infof("Revised %d parameter(s), saved model to %q", len(revisions), modelPath)
	}
	if *flagSummary {
		summary(m, modelPath)
	}
	if *flagNodes {
		listNodes(m)
	}
	if *flagValues {
		fmt.Println(titleStyle.Render("Values"))
		for _, node := range m.Nodes() {
			must.M(node.DumpNodeInfo(true, true, os.Stdout))
		}
	}
}

func summary[T constraints.Float](m *nodes.Model[T], modelPath string) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("model", modelPath)
	table.Row("id", m.ID.String())
	table.Row("dtype", tensors.DTypeFor[T]().String())
	table.Row("# nodes", humanize.Comma(int64(len(m.Nodes()))))

	var numValues int
	var totalMemory uintptr
	params := m.Parameters()
	for _, p := range params {
		numValues += p.SampleLayout().Size()
		totalMemory += p.Value().Memory()
	}
	table.Row("# parameters", humanize.Comma(int64(len(params))))
	table.Row("# values", humanize.Comma(int64(numValues)))
	table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
	fmt.Println(table.Render())
}

func listNodes[T constraints.Float](m *nodes.Model[T]) {
	fmt.Println(titleStyle.Render("Nodes"))
	table := newPlainTable(true)
	table.Headers("Name", "Operation", "Shape", "Storage", "LR Multiplier", "Bytes")
	for _, node := range m.Nodes() {
		value := node.Value()
		table.Row(node.Name(), node.OperationName(), node.SampleLayout().String(), value.Kind().String(),
			fmt.Sprintf("%g", node.LearningRateMultiplier()), humanize.Bytes(uint64(value.Memory())))
	}
	fmt.Println(table.Render())
}
