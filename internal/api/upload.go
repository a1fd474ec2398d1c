package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/VaultShop/internal/catalog"
	"github.com/dharsanguruparan/VaultShop/internal/errs"
)

const maxFieldBytes = 4 << 10

type tempUpload struct {
	f           *os.File
	size        int64
	filename    string
	contentType string
}

func (t *tempUpload) cleanup() {
	if t == nil || t.f == nil {
		return
	}
	t.f.Close()
	os.Remove(t.f.Name())
}

// readUpload walks the multipart body once. Form fields are collected in any
// order; the "file" part is spooled to a temp file.
func (s *Server) readUpload(r *http.Request) (map[string]string, *tempUpload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: expected multipart/form-data", errs.ErrValidation)
	}
	fields := map[string]string{}
	var tmp *tempUpload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tmp.cleanup()
			return nil, nil, fmt.Errorf("%w: read multipart: %v", errs.ErrValidation, err)
		}
		name := part.FormName()
		switch {
		case name == "file" && tmp == nil:
			tmp, err = s.persistTemp(part)
		case name != "":
			var b []byte
			b, err = io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			if err == nil && len(b) > maxFieldBytes {
				err = fmt.Errorf("%w: field %q too long", errs.ErrValidation, name)
			}
			fields[name] = string(b)
		}
		part.Close()
		if err != nil {
			tmp.cleanup()
			return nil, nil, err
		}
	}
	if tmp == nil {
		return nil, nil, fmt.Errorf("%w: file part required", errs.ErrValidation)
	}
	return fields, tmp, nil
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "vaultshop-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	t := &tempUpload{f: tmpFile, filename: filepath.Base(part.FileName())}
	limit := s.deps.MaxUploadBytes
	var sniff []byte
	buf := make([]byte, 32*1024)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			t.size += int64(n)
			if limit > 0 && t.size > limit {
				t.cleanup()
				return nil, fmt.Errorf("%w: file exceeds limit (%d bytes)", errs.ErrValidation, limit)
			}
			if len(sniff) < 512 {
				sniff = append(sniff, buf[:min(n, 512-len(sniff))]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				t.cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			t.cleanup()
			return nil, fmt.Errorf("%w: read file: %v", errs.ErrValidation, readErr)
		}
	}
	if t.size == 0 {
		t.cleanup()
		return nil, fmt.Errorf("%w: empty file", errs.ErrValidation)
	}
	t.contentType = part.Header.Get("Content-Type")
	if t.contentType == "" || t.contentType == "application/octet-stream" {
		t.contentType = http.DetectContentType(sniff)
	}
	if i := strings.IndexByte(t.contentType, ';'); i >= 0 {
		t.contentType = strings.TrimSpace(t.contentType[:i])
	}
	if t.filename == "." || t.filename == "/" {
		t.filename = "upload"
	}
	return t, nil
}

// uploadInput converts the form fields into catalog input.
func uploadInput(fields map[string]string, tmp *tempUpload) (catalog.UploadInput, error) {
	in := catalog.UploadInput{
		Title:       fields["title"],
		Category:    strings.TrimSpace(fields["category"]),
		FileName:    tmp.filename,
		ContentType: tmp.contentType,
		Size:        tmp.size,
		Body:        tmp.f,
	}
	price, err := parseAmount(fields["price"], "price")
	if err != nil {
		return in, err
	}
	in.Price = price
	if v := strings.TrimSpace(fields["listPrice"]); v != "" {
		lp, err := parseAmount(v, "listPrice")
		if err != nil {
			return in, err
		}
		in.ListPrice = &lp
	}
	if v := strings.TrimSpace(fields["active"]); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return in, fmt.Errorf("%w: active must be a boolean", errs.ErrValidation)
		}
		in.Inactive = !active
	}
	return in, nil
}

func parseAmount(v, field string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: %s required", errs.ErrValidation, field)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errs.ErrValidation, field)
	}
	return n, nil
}
