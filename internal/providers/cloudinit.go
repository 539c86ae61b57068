package providers

import (
	"fmt"
	"sort"
	"strings"
)

// CloudInitUserData returns a minimal cloud-init YAML that:
// - creates a non-root user
// - authorizes the given public key for it
// - disables password logins
// - records the node's fleet tag in /etc/flotilla/tag
func CloudInitUserData(username, sshAuthorizedKey, tag string, labels map[string]string) string {
	if username == "" {
		username = "fl"
	}
	var meta strings.Builder
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&meta, "      %s=%s\n", k, labels[k])
	}
	return fmt.Sprintf(`#cloud-config
users:
  - name: %s
    sudo: ["ALL=(ALL) NOPASSWD:ALL"]
    shell: /bin/bash
    ssh_authorized_keys:
      - %s
ssh_pwauth: false
disable_root: true
write_files:
  - path: /etc/flotilla/tag
    permissions: '0644'
    content: |
      %s
  - path: /etc/flotilla/labels
    permissions: '0644'
    content: |
%s`, username, strings.TrimSpace(sshAuthorizedKey), tag, meta.String())
}
