package httpapi

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

const (
	fileField = "file"
	bodyField = "body"
)

var errUploadTooLarge = errors.New("file too large")

// readRequest extracts the service request body and, for multipart
// requests, the uploaded file. The file is written under dir.
func readRequest(r *http.Request, dir string, maxBody int64, maxFile int64) (json.RawMessage, *domain.Asset, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return nil, nil, fmt.Errorf("read body: %w", err)
		}
		if int64(len(b)) > maxBody {
			return nil, nil, errors.New("request body too large")
		}
		return normalizeJSON(b)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("read multipart: %w", err)
	}

	var (
		request json.RawMessage
		asset   *domain.Asset
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			removeAsset(asset)
			return nil, nil, fmt.Errorf("read multipart: %w", err)
		}

		switch {
		case part.FormName() == fileField && part.FileName() != "" && asset == nil:
			asset, err = saveUpload(part, dir, maxFile)
		case part.FormName() == bodyField:
			var b []byte
			b, err = io.ReadAll(io.LimitReader(part, maxBody))
			if err == nil {
				request, _, err = normalizeJSON(b)
			}
		}
		part.Close()
		if err != nil {
			removeAsset(asset)
			return nil, nil, err
		}
	}

	if request == nil {
		request = json.RawMessage("{}")
	}
	return request, asset, nil
}

func normalizeJSON(b []byte) (json.RawMessage, *domain.Asset, error) {
	if len(b) == 0 {
		return json.RawMessage("{}"), nil, nil
	}
	if !json.Valid(b) {
		return nil, nil, errors.New("request body is not valid JSON")
	}
	return json.RawMessage(b), nil, nil
}

func saveUpload(part *multipart.Part, dir string, maxFile int64) (*domain.Asset, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}

	path := filepath.Join(dir, "upload-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	sum := md5.New()
	n, err := io.Copy(io.MultiWriter(f, sum), io.LimitReader(part, maxFile+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > maxFile {
		err = errUploadTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return &domain.Asset{
		Name:        filepath.Base(part.FileName()),
		Size:        n,
		Encoding:    part.Header.Get("Content-Transfer-Encoding"),
		ContentType: part.Header.Get("Content-Type"),
		MD5:         hex.EncodeToString(sum.Sum(nil)),
		Path:        path,
	}, nil
}

func removeAsset(a *domain.Asset) {
	if a != nil {
		_ = os.Remove(a.Path)
	}
}
