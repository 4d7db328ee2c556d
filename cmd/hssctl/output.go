package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/hsslink/internal/node"
	"gopkg.in/yaml.v3"
)

func formatPeers(format string, peers []node.PeerInfo) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		b, err := json.MarshalIndent(peers, "", "  ")
		if err != nil {
			return "", fmt.Errorf("format json: %w", err)
		}
		return string(b) + "\n", nil
	case "yaml":
		b, err := yaml.Marshal(peers)
		if err != nil {
			return "", fmt.Errorf("format yaml: %w", err)
		}
		return string(b), nil
	case "", "table":
		return peerTable(peers), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func peerTable(peers []node.PeerInfo) string {
	if len(peers) == 0 {
		return "No peers found.\n"
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tIDENTITY\tADDRESS\tVERSION\tLIVE\tAVAILABLE\tVENDOR\tNAME")
	for _, p := range peers {
		fmt.Fprintf(w, "%d\t%s\t%s\t0x%04x\t%t\t%t\t%s\t%s\n",
			p.Index, p.Identity, p.Address, p.ProtocolVersion, p.Live, p.Available, p.Vendor, p.Name)
	}
	w.Flush()
	return buf.String()
}
