// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bodaay/HuggingFaceDatasets/pkg/hfdatasets"
)

type treeNode struct {
	name     string
	isFile   bool
	size     int64
	children map[string]*treeNode
}

func newTreeNode(name string, isFile bool) *treeNode {
	return &treeNode{
		name:     name,
		isFile:   isFile,
		children: make(map[string]*treeNode),
	}
}

func buildTree(listing *hfdatasets.FileListing) *treeNode {
	root := newTreeNode("", false)

	for _, name := range listing.Names {
		parts := strings.Split(name, "/")
		current := root

		for i, part := range parts {
			isFile := i == len(parts)-1
			if next, exists := current.children[part]; exists {
				current = next
			} else {
				next := newTreeNode(part, isFile)
				if isFile {
					next.size = listing.Sizes[name]
				}
				current.children[part] = next
				current = next
			}
		}
	}

	return root
}

// writeTree renders the listing as an indented file tree.
func writeTree(out io.Writer, listing *hfdatasets.FileListing) {
	printTreeNode(out, buildTree(listing), "", true)
}

func printTreeNode(out io.Writer, n *treeNode, prefix string, isLast bool) {
	if n.name != "" {
		marker := "├── "
		if isLast {
			marker = "└── "
		}

		size := ""
		if n.isFile {
			size = formatSize(n.size)
		}

		fmt.Fprintf(out, "%s%s%s %s\n", prefix, marker, n.name, size)
	}

	var children []*treeNode
	for _, child := range n.children {
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool {
		// Directories come before files
		if children[i].isFile != children[j].isFile {
			return !children[i].isFile
		}
		return children[i].name < children[j].name
	})

	for i, child := range children {
		newPrefix := prefix
		if n.name != "" {
			if isLast {
				newPrefix += "    "
			} else {
				newPrefix += "│   "
			}
		}
		printTreeNode(out, child, newPrefix, i == len(children)-1)
	}
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
