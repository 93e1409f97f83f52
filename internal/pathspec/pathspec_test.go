package pathspec

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantFull   string
		wantParent string
		wantLeaf   string
		wantErr    error
	}{
		{
			name:       "typical shared directory",
			raw:        "/srv/sftp/shared",
			wantFull:   "/srv/sftp/shared",
			wantParent: "/srv/sftp",
			wantLeaf:   "shared",
		},
		{
			name:       "minimum depth",
			raw:        "/srv/sftp",
			wantFull:   "/srv/sftp",
			wantParent: "/srv",
			wantLeaf:   "sftp",
		},
		{
			name:       "trailing slash is cleaned",
			raw:        "/srv/sftp/shared/",
			wantFull:   "/srv/sftp/shared",
			wantParent: "/srv/sftp",
			wantLeaf:   "shared",
		},
		{
			name:       "doubled separators are cleaned",
			raw:        "//srv//sftp//uploads",
			wantFull:   "/srv/sftp/uploads",
			wantParent: "/srv/sftp",
			wantLeaf:   "uploads",
		},
		{
			name:       "surrounding whitespace",
			raw:        "  /data/sftp/drop  ",
			wantFull:   "/data/sftp/drop",
			wantParent: "/data/sftp",
			wantLeaf:   "drop",
		},
		{
			name:    "single level rejected",
			raw:     "/shared",
			wantErr: ErrInvalidDirectoryDepth,
		},
		{
			name:    "root rejected",
			raw:     "/",
			wantErr: ErrInvalidDirectoryDepth,
		},
		{
			name:    "relative path rejected",
			raw:     "srv/sftp/shared",
			wantErr: ErrInvalidDirectoryDepth,
		},
		{
			name:    "empty rejected",
			raw:     "",
			wantErr: ErrInvalidDirectoryDepth,
		},
		{
			name:    "trailing slash does not add depth",
			raw:     "/shared/",
			wantErr: ErrInvalidDirectoryDepth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.raw, err)
			}

			if got.FullPath != tt.wantFull {
				t.Errorf("FullPath = %q, want %q", got.FullPath, tt.wantFull)
			}
			if got.ParentPath != tt.wantParent {
				t.Errorf("ParentPath = %q, want %q", got.ParentPath, tt.wantParent)
			}
			if got.LeafName != tt.wantLeaf {
				t.Errorf("LeafName = %q, want %q", got.LeafName, tt.wantLeaf)
			}
		})
	}
}

func TestWithinHome(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		username string
		want     bool
	}{
		{
			name:     "inside home",
			path:     "/home/sftpuser/files",
			username: "sftpuser",
			want:     true,
		},
		{
			name:     "home itself",
			path:     "/home/sftpuser",
			username: "sftpuser",
			want:     true,
		},
		{
			name:     "deeply nested",
			path:     "/home/sftpuser/a/b/c",
			username: "sftpuser",
			want:     true,
		},
		{
			name:     "another user's home",
			path:     "/home/sftpuser2/files",
			username: "sftpuser",
			want:     false,
		},
		{
			name:     "prefix but different segment",
			path:     "/homey/sftpuser/files",
			username: "sftpuser",
			want:     false,
		},
		{
			name:     "outside home entirely",
			path:     "/srv/sftp/shared",
			username: "sftpuser",
			want:     false,
		},
		{
			name:     "trailing slash inside home",
			path:     "/home/sftpuser/files/",
			username: "sftpuser",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinHome(tt.path, tt.username); got != tt.want {
				t.Errorf("WithinHome(%q, %q) = %v, want %v", tt.path, tt.username, got, tt.want)
			}
		})
	}
}

func TestEnsureOutsideHome(t *testing.T) {
	if err := EnsureOutsideHome("/srv/sftp/shared", "sftpuser"); err != nil {
		t.Errorf("EnsureOutsideHome() error = %v for path outside home", err)
	}

	err := EnsureOutsideHome("/home/sftpuser/shared", "sftpuser")
	if !errors.Is(err, ErrDirectoryWithinHome) {
		t.Errorf("EnsureOutsideHome() error = %v, want %v", err, ErrDirectoryWithinHome)
	}
}
