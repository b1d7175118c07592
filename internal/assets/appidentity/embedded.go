package appidentityassets

import _ "embed"

// YAML mirrors .fulmen/app.yaml so a standalone intunectl binary still
// knows its name, env prefix and telemetry namespace. Keep the two copies
// identical.
//
//go:embed app.yaml
var YAML []byte
