// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// peremake rewrites the data directory of PE files as they stream from input
// to output, and verifies that streaming reproduces files byte for byte.
package main

func main() {
	Execute()
}
