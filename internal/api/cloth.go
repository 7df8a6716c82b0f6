package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/closetconnect/closet-tracker/internal/models"
)

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/auth/login", models.LoginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	var out models.LoginResponse
	if err := decode("login", resp, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("login response has no access token")
	}
	return &out, nil
}

// GetCloth returns the review view of a cloth.
func (c *Client) GetCloth(ctx context.Context, clothID int64) (*models.ClothDetail, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/v1/cloth/%d", clothID), nil)
	if err != nil {
		return nil, err
	}

	var out models.ClothDetail
	if err := decode("get cloth", resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus returns the processing status of a cloth.
func (c *Client) GetStatus(ctx context.Context, clothID int64) (*models.ClothStatus, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/v1/cloth/%d/status", clothID), nil)
	if err != nil {
		return nil, err
	}

	var out models.ClothStatus
	if err := decode("get status", resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmImage finalizes the review with the chosen variant and category.
func (c *Client) ConfirmImage(ctx context.Context, clothID int64, req models.ConfirmImageRequest) (*models.ClothSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/v1/cloth/%d/confirm-image", clothID), req)
	if err != nil {
		return nil, err
	}

	var out models.ClothSummary
	if err := decode("confirm image", resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject discards the processing result and deletes the cloth.
func (c *Client) Reject(ctx context.Context, clothID int64) error {
	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/v1/cloth/%d/reject", clothID), nil)
	if err != nil {
		return err
	}
	return decode("reject", resp, nil, nethttp.StatusNoContent, nethttp.StatusOK)
}

// ProgressFunc wraps the upload body so callers can render byte progress.
type ProgressFunc func(r io.Reader, size int64) io.Reader

// UploadCloth streams a photo to the backend and returns the created
// cloth, which starts out PROCESSING. The request is never retried.
func (c *Client) UploadCloth(ctx context.Context, req models.UploadRequest, progress ProgressFunc) (*models.ClothSummary, error) {
	f, err := os.Open(req.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	name := req.Name
	if name == "" {
		name = trimExt(filepath.Base(req.ImagePath))
	}
	imageType := req.ImageType
	if imageType == "" {
		imageType = models.UploadFullBody
	}

	var src io.Reader = f
	if progress != nil {
		src = progress(f, info.Size())
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, src, filepath.Base(req.ImagePath), name, req.Category, imageType))
	}()

	httpReq, err := nethttp.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/cloth/upload", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	resp, err := c.uploadClient.Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	var out models.ClothSummary
	if err := decode("upload", resp, &out, nethttp.StatusCreated, nethttp.StatusOK); err != nil {
		return nil, err
	}
	if out.ID <= 0 {
		return nil, fmt.Errorf("upload response has no cloth id")
	}
	return &out, nil
}

func writeUploadForm(mw *multipart.Writer, image io.Reader, filename, name string, category models.Category, imageType models.UploadImageType) error {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, strings.ReplaceAll(filename, `"`, "")))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, image); err != nil {
		return err
	}
	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	if category != "" {
		if err := mw.WriteField("category", string(category)); err != nil {
			return err
		}
	}
	if err := mw.WriteField("imageType", string(imageType)); err != nil {
		return err
	}
	return mw.Close()
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
