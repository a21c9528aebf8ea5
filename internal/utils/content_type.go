package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeCSV  = "text/csv"
	ContentTypeHTML = "text/html"
	ContentTypeText = "text/plain"
	ContentTypeBin  = "application/octet-stream"
)

// NormalizeContentType strips parameters and lowercases a MIME type.
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mediaType)
}

// ContentTypeCharset returns the charset parameter of a MIME type, if any.
func ContentTypeCharset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func IsGenericContentType(contentType string) bool {
	switch NormalizeContentType(contentType) {
	case "", ContentTypeBin, "application/zip", "application/x-zip-compressed", "application/unknown":
		return true
	}
	return false
}

func GetContentTypeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ContentTypePDF
	case ".xlsx", ".xlsm":
		return ContentTypeXLSX
	case ".docx":
		return ContentTypeDOCX
	case ".csv":
		return ContentTypeCSV
	case ".htm", ".html":
		return ContentTypeHTML
	case ".txt", ".text", ".md":
		return ContentTypeText
	default:
		return ""
	}
}

func GetFileExtensionFromContentType(contentType string) string {
	contentType = NormalizeContentType(contentType)

	switch {
	case strings.Contains(contentType, "pdf"):
		return "pdf"
	case strings.Contains(contentType, "spreadsheetml") || strings.Contains(contentType, "excel"):
		return "xlsx"
	case strings.Contains(contentType, "wordprocessingml") || strings.Contains(contentType, "msword"):
		return "docx"
	case strings.Contains(contentType, "csv"):
		return "csv"
	case strings.Contains(contentType, "html"):
		return "html"
	case strings.Contains(contentType, "text/plain"):
		return "txt"
	case strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	default:
		return "bin"
	}
}
