// Copyright 2024 The evmtaint Authors
// This file is part of the evmtaint library.
//
// The evmtaint library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtaint library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtaint library. If not, see <http://www.gnu.org/licenses/>.

// Package report renders an Engine's findings into the tool's output
// record.
package report

import (
	"encoding/json"
	"io"

	"github.com/probeum/evmtaint/internal/engine"
)

// Report is the summary record emitted by the CLI: whether anything was
// reported, which analysis phase last ran, and counts for each finding
// category.
type Report struct {
	IsReported  bool `json:"is_reported"`
	Steps       int  `json:"steps"`
	Conditions  int  `json:"conditions"`
	CallValues  int  `json:"call_values"`
	ToAddresses int  `json:"to_addresses"`
	TodoKeys    int  `json:"todo_keys"`
}

// Build summarizes e's accumulated findings. isReported is the return
// value of e.Run.
func Build(e *engine.Engine, isReported bool) Report {
	return Report{
		IsReported:  isReported,
		Steps:       e.Step,
		Conditions:  len(e.Conditions),
		CallValues:  len(e.CallValues),
		ToAddresses: len(e.ToAddresses),
		TodoKeys:    len(e.TodoKeys),
	}
}

// Write marshals r as 4-space-indented JSON to w, matching the original
// tool's json.dump(..., indent=4) formatting.
func Write(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(r)
}
