package provisioning

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"
)

// DefaultMaxAttachmentBytes caps the decoded attachment size.
const DefaultMaxAttachmentBytes int64 = 10 << 20

// ValidationError is a provisioning rejection with a message meant for the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const (
	msgNoLines      = "no line items to submit"
	msgAttach       = "attach the authorized offer or approval email"
	msgAttachFormat = "attachment must be PDF, JPG/JPEG or DOC/DOCX"
	msgAttachBad    = "attachment is not valid"
)

var allowedExtensions = map[string]struct{}{
	"pdf": {}, "jpg": {}, "jpeg": {}, "doc": {}, "docx": {},
}

var allowedContentTypes = map[string]struct{}{
	"application/pdf":    {},
	"image/jpeg":         {},
	"image/jpg":          {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// decodedAttachment is an attachment that passed the gate.
type decodedAttachment struct {
	Extension string
	Content   []byte
}

// Validate applies the submission gate in order and reports the first failure.
// maxBytes <= 0 selects DefaultMaxAttachmentBytes.
func Validate(req Request, maxBytes int64) error {
	_, err := validate(req, maxBytes)
	return err
}

func validate(req Request, maxBytes int64) (decodedAttachment, error) {
	if len(req.LineItems) == 0 {
		return decodedAttachment{}, &ValidationError{Message: msgNoLines}
	}
	att := req.Attachment
	if att == nil || strings.TrimSpace(att.FileName) == "" || strings.TrimSpace(att.Base64) == "" {
		return decodedAttachment{}, &ValidationError{Message: msgAttach}
	}

	ext := Extension(att.FileName)
	if _, ok := allowedExtensions[ext]; !ok {
		return decodedAttachment{}, &ValidationError{Message: msgAttachFormat}
	}
	if _, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(att.ContentType))]; !ok {
		return decodedAttachment{}, &ValidationError{Message: msgAttachFormat}
	}

	content, err := base64.StdEncoding.DecodeString(stripSpace(att.Base64))
	if err != nil {
		return decodedAttachment{}, &ValidationError{Message: msgAttachBad}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	if int64(len(content)) > maxBytes {
		return decodedAttachment{}, &ValidationError{Message: fmt.Sprintf("attachment exceeds %d bytes", maxBytes)}
	}
	return decodedAttachment{Extension: ext, Content: content}, nil
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/"))), ".")
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
