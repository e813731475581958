// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file serves as the bridge between the build system and the runtime logic. It utilizes the Go
embed package to bake the province lookup table and the residual-PII pattern file directly into
the compiled binary. This ensures the privacy rules are immutable at runtime and travel with the
executable.
*/

package enforcement

import (
	_ "embed"
)

// ProvinceTable holds the raw byte content of 'za_provinces.yaml'.
//
// Populated at compile time via the Go 'embed' directive. Baking the table
// into the binary means the town-to-province generalization cannot be
// tampered with on the host filesystem without recompiling.
//
//go:embed za_provinces.yaml
var ProvinceTable []byte

// PIIPatterns holds the raw byte content of 'pii_patterns.yaml'.
//
// Same embedding rationale as ProvinceTable: the residual-PII scrubbing
// rules are part of the binary, not host configuration.
//
//go:embed pii_patterns.yaml
var PIIPatterns []byte
