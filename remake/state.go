// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import "fmt"

// State identifies the structure a Transform is currently consuming. States
// are entered in the order in which they are declared.
type State int

const (
	StateDOSHeader State = iota
	StateBeforePE
	StateNTHeader
	StateOptionalHeaderMagic
	StateOptionalHeaderBody
	StateDataDirectories
	StateSectionHeaders
	StateHeaderFooter
	StateBody
)

var stateNames = [...]string{
	StateDOSHeader:           "DOS_HEADER",
	StateBeforePE:            "BEFORE_PE",
	StateNTHeader:            "NT_HEADER",
	StateOptionalHeaderMagic: "OPTIONAL_HEADER_MAGIC",
	StateOptionalHeaderBody:  "OPTIONAL_HEADER_BODY",
	StateDataDirectories:     "DATA_DIRECTORIES",
	StateSectionHeaders:      "SECTION_HEADERS",
	StateHeaderFooter:        "HEADER_FOOTER",
	StateBody:                "BODY",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
