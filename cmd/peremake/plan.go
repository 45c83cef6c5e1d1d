// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dblohm7/peremake/pe"
)

// Plan describes how a file is rewritten. It may be loaded from YAML:
//
//	directories:
//	  - index: CertificateTable
//	    address: 0x1C00
//	    size: 0x2000
//	  - index: 15
//	    address: 0x11223344
//	    size: 0x01020304
//	append: "01020304"
type Plan struct {
	Directories []DirectoryReplacement `yaml:"directories"`
	// Append is hex-encoded; whitespace is ignored.
	Append string `yaml:"append"`
}

// DirectoryReplacement replaces a single data directory slot.
type DirectoryReplacement struct {
	Index   DirectoryIndex `yaml:"index"`
	Address uint32         `yaml:"address"`
	Size    uint32         `yaml:"size"`
}

// DirectoryIndex accepts either a slot number or a slot name such as
// "ResourceTable". Names are matched case-insensitively.
type DirectoryIndex pe.DataDirectoryIndex

func parseDirectoryIndex(s string) (DirectoryIndex, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		idx := pe.DataDirectoryIndex(n)
		if !idx.Valid() {
			return 0, errors.Errorf("data directory index %d out of range", n)
		}
		return DirectoryIndex(idx), nil
	}
	for i := pe.DataDirectoryIndex(0); i.Valid(); i++ {
		if strings.EqualFold(i.String(), s) {
			return DirectoryIndex(i), nil
		}
	}
	return 0, errors.Errorf("unknown data directory %q", s)
}

func (d *DirectoryIndex) UnmarshalYAML(value *yaml.Node) error {
	idx, err := parseDirectoryIndex(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = idx
	return nil
}

// parseDirectoryFlag parses INDEX=ADDRESS:SIZE, as given to --set-directory.
func parseDirectoryFlag(s string) (DirectoryReplacement, error) {
	var r DirectoryReplacement
	index, value, ok := strings.Cut(s, "=")
	if !ok {
		return r, errors.Errorf("%q: expected INDEX=ADDRESS:SIZE", s)
	}
	address, size, ok := strings.Cut(value, ":")
	if !ok {
		return r, errors.Errorf("%q: expected INDEX=ADDRESS:SIZE", s)
	}

	idx, err := parseDirectoryIndex(index)
	if err != nil {
		return r, err
	}
	a, err := strconv.ParseUint(strings.TrimSpace(address), 0, 32)
	if err != nil {
		return r, errors.Wrapf(err, "%q: address", s)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(size), 0, 32)
	if err != nil {
		return r, errors.Wrapf(err, "%q: size", s)
	}

	r.Index, r.Address, r.Size = idx, uint32(a), uint32(n)
	return r, nil
}

// LoadPlan reads a YAML plan from path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read plan")
	}
	plan := &Plan{}
	if err := yaml.Unmarshal(data, plan); err != nil {
		return nil, errors.Wrapf(err, "parse plan %s", path)
	}
	if _, err := plan.AppendBytes(); err != nil {
		return nil, err
	}
	return plan, nil
}

// AppendBytes decodes Append.
func (p *Plan) AppendBytes() ([]byte, error) {
	s := strings.Join(strings.Fields(p.Append), "")
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode append bytes")
	}
	return b, nil
}

// Apply returns entries with the plan's replacements made, or nil when the
// plan replaces nothing. Later replacements of the same slot win.
func (p *Plan) Apply(entries []pe.DataDirectory) []pe.DataDirectory {
	if len(p.Directories) == 0 {
		return nil
	}
	result := make([]pe.DataDirectory, len(entries))
	copy(result, entries)
	for _, r := range p.Directories {
		idx := pe.DataDirectoryIndex(r.Index)
		replaced := false
		for i := range result {
			if result[i].Index == idx {
				result[i].VirtualAddress, result[i].Size = r.Address, r.Size
				replaced = true
			}
		}
		if !replaced {
			result = append(result, pe.DataDirectory{Index: idx, VirtualAddress: r.Address, Size: r.Size})
		}
	}
	return result
}
