package port

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}

// Loader extracts plain text from an uploaded file.
type Loader interface {
	Load(filename string, data []byte) (text string, contentType string, err error)
}
