// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package circular provides power-of-two sizing for fixed-capacity
// ring structures; the hash package uses it to round a kmer table's
// bucket count up so bucket indexing can mask instead of mod.
package circular
