package nodes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File serves file nodes against a sandbox root. Every path is
// resolved below the root; escapes via .. or absolute paths are
// permission failures.
type File struct {
	root string
}

func NewFile(root string) *File {
	return &File{root: filepath.Clean(root)}
}

func (f *File) Kind() string { return "file" }

func (f *File) Execute(ctx context.Context, req Request) Response {
	if f.root == "" || f.root == "." {
		return Fail(ErrorTypeValidation, "file handler has no sandbox root configured", false)
	}
	op, _ := req.Config["op"].(string)
	if op == "" {
		op = "read"
	}
	rel, _ := req.Config["path"].(string)
	if rel == "" {
		return Fail(ErrorTypeValidation, "file node requires a path", false)
	}

	abs, err := f.resolve(rel)
	if err != nil {
		return Fail(ErrorTypePermission, err.Error(), false)
	}

	switch op {
	case "read":
		return f.read(abs, rel)
	case "write":
		return f.write(abs, rel, req.Config)
	case "list":
		return f.list(abs, rel)
	default:
		return Fail(ErrorTypeValidation, fmt.Sprintf("unknown file op %q", op), false)
	}
}

// resolve joins rel under the root and verifies the result stays
// inside it.
func (f *File) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative to the sandbox root", rel)
	}
	abs := filepath.Clean(filepath.Join(f.root, rel))
	inside, err := filepath.Rel(f.root, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox root", rel)
	}
	return abs, nil
}

func (f *File) read(abs, rel string) Response {
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(ErrorTypeNotFound, fmt.Sprintf("file %q not found", rel), false)
		}
		return Fail(ErrorTypeOther, err.Error(), false)
	}
	return Succeed(map[string]interface{}{
		"path":    rel,
		"content": string(data),
		"size":    len(data),
	}, nil)
}

func (f *File) write(abs, rel string, config map[string]interface{}) Response {
	content, ok := config["content"].(string)
	if !ok {
		return Fail(ErrorTypeValidation, "file write requires string content", false)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Fail(ErrorTypeOther, err.Error(), false)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Fail(ErrorTypeOther, err.Error(), false)
	}
	return Succeed(map[string]interface{}{
		"path":  rel,
		"bytes": len(content),
	}, nil)
}

func (f *File) list(abs, rel string) Response {
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(ErrorTypeNotFound, fmt.Sprintf("directory %q not found", rel), false)
		}
		return Fail(ErrorTypeOther, err.Error(), false)
	}
	names := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		names = append(names, map[string]interface{}{
			"name": e.Name(),
			"dir":  e.IsDir(),
		})
	}
	return Succeed(map[string]interface{}{
		"path":    rel,
		"entries": names,
		"count":   len(names),
	}, nil)
}
