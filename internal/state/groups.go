package state

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RegisteredGroup is a chat explicitly opted into agent routing. The
// registration list is managed through the CLI; the router only reads it.
type RegisteredGroup struct {
	Name    string `json:"name"`
	Folder  string `json:"folder"`
	Trigger string `json:"trigger"`
	Channel string `json:"channel,omitempty"` // transport name, default "whatsapp"
	AddedAt string `json:"added_at"`
}

const groupsFile = "registered_groups.json"

var folderSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// SanitizeFolder derives a filesystem-safe working-directory identifier
// from a group name.
func SanitizeFolder(name string) string {
	folder := strings.ToLower(strings.TrimSpace(name))
	folder = folderSanitizer.ReplaceAllString(folder, "-")
	folder = strings.Trim(folder, "-")
	if folder == "" {
		folder = "group"
	}
	return folder
}

// LoadGroups reads the registration list, keyed by chat JID. A missing
// file is an empty list.
func LoadGroups(dataDir string) (map[string]RegisteredGroup, error) {
	groups := make(map[string]RegisteredGroup)
	if err := readJSON(filepath.Join(dataDir, groupsFile), &groups); err != nil {
		return nil, fmt.Errorf("load registered groups: %w", err)
	}
	for jid, g := range groups {
		if g.Channel == "" {
			g.Channel = "whatsapp"
			groups[jid] = g
		}
	}
	return groups, nil
}

// RegisterGroup adds or replaces one registration. This is the external
// management surface; the running router does not call it.
func RegisterGroup(dataDir, chatJID string, group RegisteredGroup) error {
	groups, err := LoadGroups(dataDir)
	if err != nil {
		return err
	}
	if group.Folder == "" {
		group.Folder = SanitizeFolder(group.Name)
	}
	if group.Channel == "" {
		group.Channel = "whatsapp"
	}
	if group.AddedAt == "" {
		group.AddedAt = time.Now().UTC().Format(time.RFC3339)
	}
	groups[chatJID] = group
	if err := writeJSON(filepath.Join(dataDir, groupsFile), groups); err != nil {
		return fmt.Errorf("save registered groups: %w", err)
	}
	return nil
}

// SortedGroupJIDs returns the registered chat JIDs in stable order.
func SortedGroupJIDs(groups map[string]RegisteredGroup) []string {
	jids := make([]string, 0, len(groups))
	for jid := range groups {
		jids = append(jids, jid)
	}
	sort.Strings(jids)
	return jids
}
