// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package biosimd provides the reverse-complement family this module
// actually needs (dna's revcomp helpers): operations on ASCII and
// 2-bit/4-bit-packed base arrays. The original bam/fastq-packing side of
// this package (PackSeq/UnpackSeq, the .bam quality-score and
// nibble-table machinery) has no caller here — read parsing is out of
// scope, see DESIGN.md — and was dropped rather than carried as dead
// weight.
package biosimd
