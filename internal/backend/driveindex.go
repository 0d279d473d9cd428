package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/masahif/opendir/internal/ratelimit"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// maxDrivePages bounds pagination of a single folder.
const maxDrivePages = 10000

var driveMarkers = [][]byte{
	[]byte("goindex"),
	[]byte("gdindex"),
	[]byte("window.gdconfig"),
	[]byte("window.drive_names"),
}

func isDriveIndex(resp *HTTPResponse) bool {
	body := bytes.ToLower(resp.Body)
	for _, m := range driveMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

type driveRequest struct {
	Password  string  `json:"password"`
	PageToken *string `json:"page_token"`
	PageIndex int     `json:"page_index"`
}

type driveResponse struct {
	NextPageToken *string `json:"nextPageToken"`
	Data          *struct {
		Files []driveFile `json:"files"`
	} `json:"data"`
}

type driveFile struct {
	Name     string          `json:"name"`
	MimeType string          `json:"mimeType"`
	Size     json.RawMessage `json:"size"`
}

// DriveIndexAdapter lists folders of a drive-index site through its POST
// API: each folder URL answers a JSON page of entries plus a continuation
// token. A 401 means the password is wrong and aborts the run.
type DriveIndexAdapter struct {
	api      apiClient
	password string
}

func newDriveIndexAdapter(client *HTTPClient, limiter *ratelimit.Limiter, policy retry.Policy, password string) *DriveIndexAdapter {
	return &DriveIndexAdapter{
		api:      apiClient{name: NameDriveIndex, client: client, limiter: limiter, policy: policy},
		password: password,
	}
}

// Name implements Adapter.
func (a *DriveIndexAdapter) Name() string { return NameDriveIndex }

// DefaultWorkers implements Adapter.
func (a *DriveIndexAdapter) DefaultWorkers() int { return 4 }

// Fetch implements Adapter.
func (a *DriveIndexAdapter) Fetch(ctx context.Context, node tree.DirectoryNode, sess *session.Session) (*tree.Fragment, error) {
	dirURL := node.URL
	if !strings.HasSuffix(dirURL, "/") {
		dirURL += "/"
	}

	frag := tree.NewFragment(node.URL)
	var token *string
	for page := 0; page < maxDrivePages; page++ {
		body, err := json.Marshal(driveRequest{Password: a.password, PageToken: token, PageIndex: page})
		if err != nil {
			return nil, retry.Permanent(err)
		}

		var resp driveResponse
		req := HTTPRequest{
			Method: http.MethodPost,
			URL:    dirURL,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   body,
		}
		if err := a.api.call(ctx, sess, req, &resp); err != nil {
			return nil, err
		}

		if resp.Data != nil {
			for _, f := range resp.Data.Files {
				if f.Name == "" {
					continue
				}
				if f.MimeType == driveFolderMime {
					frag.AddDir(childURL(dirURL, f.Name, true), f.Name)
					continue
				}
				frag.AddFile(childURL(dirURL, f.Name, false), f.Name, driveSize(f.Size))
			}
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	return frag, nil
}

// driveSize accepts sizes encoded as numbers or strings.
func driveSize(raw json.RawMessage) tree.FileSize {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return tree.UnknownSize
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return tree.UnknownSize
	}
	return tree.KnownSize(n)
}
