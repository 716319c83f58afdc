// Package filesync keeps a companion file browser pointed at a terminal
// session's working directory and talks to the file-operations REST API.
package filesync

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FileEntry is one remote directory entry as reported by the file API.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDir       bool   `json:"is_dir"`
	Permissions uint32 `json:"permissions"`
	Mtime       int64  `json:"mtime"`
}

// codeOK is the file API's success code.
const codeOK = "0000"

// apiResponse is the fixed response envelope of the file API.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client consumes the file-operations REST API. It is an external
// collaborator: the session engine never calls it directly, only the
// per-session Sync does.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a file API client rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateSession opens a remote file session and returns its id.
func (c *Client) CreateSession(hostname string, port int, username, password string) (int, error) {
	body := map[string]interface{}{
		"hostname": hostname,
		"port":     port,
		"username": username,
		"password": password,
	}
	var data struct {
		SessionID int `json:"session_id"`
	}
	if err := c.post("/api/sftp/session", body, &data); err != nil {
		return 0, fmt.Errorf("create file session: %w", err)
	}
	return data.SessionID, nil
}

// List returns the entries of a remote directory.
func (c *Client) List(sessionID int, path string) ([]FileEntry, error) {
	var entries []FileEntry
	if err := c.get("/api/sftp/list", sessionID, path, &entries); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return entries, nil
}

// Read returns the text content of a remote file.
func (c *Client) Read(sessionID int, path string) (string, error) {
	var content string
	if err := c.get("/api/sftp/read", sessionID, path, &content); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

// Write replaces the text content of a remote file.
func (c *Client) Write(sessionID int, path, content string) error {
	body := map[string]interface{}{
		"session_id": sessionID,
		"path":       path,
		"content":    content,
	}
	if err := c.post("/api/sftp/write", body, nil); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete removes a remote file or directory.
func (c *Client) Delete(sessionID int, path string) error {
	body := map[string]interface{}{
		"session_id": sessionID,
		"path":       path,
	}
	if err := c.post("/api/sftp/delete", body, nil); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Rename gives a remote file or directory a new name.
func (c *Client) Rename(sessionID int, path, newName string) error {
	body := map[string]interface{}{
		"session_id": sessionID,
		"path":       path,
		"new_name":   newName,
	}
	if err := c.post("/api/sftp/rename", body, nil); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Mkdir creates a remote directory.
func (c *Client) Mkdir(sessionID int, path string) error {
	body := map[string]interface{}{
		"session_id": sessionID,
		"path":       path,
	}
	if err := c.post("/api/sftp/mkdir", body, nil); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Chmod sets the permission bits of a remote file or directory.
func (c *Client) Chmod(sessionID int, path string, mode uint32) error {
	body := map[string]interface{}{
		"session_id": sessionID,
		"path":       path,
		"mode":       mode,
	}
	if err := c.post("/api/sftp/chmod", body, nil); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// Upload sends file content (base64-encoded on the wire) into a remote
// directory. progress, when non-nil, is invoked with 0–100 before the
// request and on completion.
func (c *Client) Upload(sessionID int, path, filename string, content []byte, progress func(percent int)) error {
	if progress != nil {
		progress(0)
	}
	body := map[string]interface{}{
		"session_id":     sessionID,
		"path":           path,
		"filename":       filename,
		"content_base64": base64.StdEncoding.EncodeToString(content),
	}
	if err := c.post("/api/sftp/upload", body, nil); err != nil {
		return fmt.Errorf("upload %s/%s: %w", path, filename, err)
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

// DownloadURL constructs the direct-navigation URL for downloading a remote
// file. The browser fetches it itself; no request is made here.
func (c *Client) DownloadURL(sessionID int, path string) string {
	q := url.Values{}
	q.Set("session_id", strconv.Itoa(sessionID))
	q.Set("path", path)
	return c.baseURL + "/api/sftp/download?" + q.Encode()
}

func (c *Client) get(endpoint string, sessionID int, path string, out interface{}) error {
	q := url.Values{}
	q.Set("session_id", strconv.Itoa(sessionID))
	q.Set("path", path)

	resp, err := c.http.Get(c.baseURL + endpoint + "?" + q.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) post(endpoint string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("file api status %d", resp.StatusCode)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != codeOK {
		return fmt.Errorf("file api error: %s", env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
