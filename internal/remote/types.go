// Package remote implements the Dropbox client used by the sync engine:
// authenticated RPC calls, content upload/download, and the per-path
// revision cache kept inside the sync root.
package remote

import "time"

// Entry tags as they appear on the wire.
const (
	TagFile    = "file"
	TagFolder  = "folder"
	TagDeleted = "deleted"
)

// Metadata is the subset of the API entry metadata the engine acts on.
type Metadata struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id,omitempty"`
	Rev            string    `json:"rev,omitempty"`
	Size           int64     `json:"size,omitempty"`
	ServerModified time.Time `json:"server_modified,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

func (m Metadata) IsFile() bool    { return m.Tag == TagFile }
func (m Metadata) IsFolder() bool  { return m.Tag == TagFolder }
func (m Metadata) IsDeleted() bool { return m.Tag == TagDeleted }

// FolderEntry is one entry of a top-level folder listing, consumed once
// per folder-selection pass.
type FolderEntry struct {
	PathDisplay string `json:"path_display"`
	PathLower   string `json:"path_lower"`
	IsFolder    bool   `json:"is_folder"`
}

// ListResult is one page of a folder listing or change feed.
type ListResult struct {
	Entries []Metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

// AccountInfo describes the linked account.
type AccountInfo struct {
	AccountID      string `json:"account_id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	AccountType    string `json:"account_type"`
	UsedBytes      int64  `json:"used_bytes"`
	AllocatedBytes int64  `json:"allocated_bytes"`
}
