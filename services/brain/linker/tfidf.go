// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linker

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/AquitariBrain/services/brain/graph"
)

// tokenPattern matches runs of two or more word characters, letters and
// digits in any script plus underscore.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Tokenize lowercases text and splits it into terms.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// NodeText builds the text a node is compared on: its ID, its description
// and its attribute values (list elements individually), with attribute keys
// visited in sorted order.
func NodeText(n *graph.Node) string {
	parts := []string{n.ID}
	if n.Description != "" {
		parts = append(parts, n.Description)
	}
	keys := make([]string, 0, len(n.Attributes))
	for k := range n.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := n.Attributes[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
		case []string:
			parts = append(parts, v...)
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}

// SparseVector maps terms to weights.
type SparseVector map[string]float64

// Dot returns the inner product of two vectors.
func (v SparseVector) Dot(o SparseVector) float64 {
	if len(o) < len(v) {
		v, o = o, v
	}
	var sum float64
	for term, w := range v {
		sum += w * o[term]
	}
	return sum
}

// TFIDF computes L2-normalised tf-idf vectors for a corpus.
//
// # Description
//
// Term frequency is the raw count. Inverse document frequency is smoothed:
// idf(t) = ln((1 + n) / (1 + df(t))) + 1. Each document vector is scaled to
// unit length, so the cosine similarity of two documents is their dot
// product. A document without terms yields an empty vector.
func TFIDF(docs []string) []SparseVector {
	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		c := make(map[string]int)
		for _, term := range Tokenize(doc) {
			c[term]++
		}
		for term := range c {
			df[term]++
		}
		counts[i] = c
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, d := range df {
		idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vectors := make([]SparseVector, len(docs))
	for i, c := range counts {
		v := make(SparseVector, len(c))
		var norm float64
		for term, tf := range c {
			w := float64(tf) * idf[term]
			v[term] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for term := range v {
				v[term] /= norm
			}
		}
		vectors[i] = v
	}
	return vectors
}
