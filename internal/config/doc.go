// Package config provides environment-driven configuration and XDG-style
// path management for the terminal adapter daemon.
//
// Load reads an optional YAML override file at GlobalConfigPath, then
// applies environment variable overrides, which always win:
//
//   - PROJECT_ROOT - path below which all execute cwds must lie (required)
//   - POLICY_MANIFEST - path to the signed policy manifest
//   - ENV - "dev" relaxes WRITE approval requirements
//   - PORT - dispatcher listen port
//   - AGENT_ID, TGA_URL - identity and endpoint for the approval broker
//   - ANCHOR_SINK_URL - downstream audit sink endpoint
//   - WAL_DIR - overrides the default ~/.talos/sessions WAL directory
//   - ANCHOR_INTERVAL_SECONDS - sets Config.AnchorInterval (default 10 minutes);
//     the Session Manager does not read it and uses its own fixed
//     session.AnchorInterval
package config
