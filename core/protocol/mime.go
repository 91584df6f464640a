package protocol

// MIME types that appear in representation maps.
const (
	MIMEHTML      = "text/html"
	MIMESVG       = "image/svg+xml"
	MIMEPNG       = "image/png"
	MIMEJPEG      = "image/jpeg"
	MIMEGIF       = "image/gif"
	MIMEJSON      = "application/json"
	MIMEMarkdown  = "text/markdown"
	MIMELaTeX     = "text/latex"
	MIMEPlainText = "text/plain"
)
