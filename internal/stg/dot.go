//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
package stg

import (
	"fmt"
	"strings"
)

// Dot renders the graph as Graphviz source, the `<prefix>.dot` persisted
// artifact (§6.5).
func (g *STG) Dot() string {
	var b strings.Builder
	b.WriteString("digraph stg {\n")
	for i, n := range g.Nodes {
		b.WriteString(fmt.Sprintf("  n%d [label=%q];\n", i, n.String()))
	}
	for _, e := range g.Edges {
		b.WriteString(fmt.Sprintf("  n%d -> n%d [label=%q];\n", e.From, e.To, fmt.Sprintf("%s(%s) %d", e.Event, e.Name, e.WorstTicks)))
	}
	b.WriteString("}\n")
	return b.String()
}
