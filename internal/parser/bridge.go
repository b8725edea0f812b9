package parser

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	rserr "github.com/reposage/reposage/internal/errors"
)

// parseTimeout bounds a single tree-sitter parse. A pathological file
// must not stall the whole ingestion.
const parseTimeout = 30 * time.Second

// languageFor maps a language name to its grammar. Unsupported
// languages return nil.
func languageFor(language string) *sitter.Language {
	switch language {
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

// SitterBridge is the tree-sitter backed Bridge. A new parser instance
// is created per call, so the bridge is safe for concurrent use.
type SitterBridge struct{}

// NewBridge returns the default bridge.
func NewBridge() *SitterBridge {
	return &SitterBridge{}
}

// Supports reports whether the bridge has a grammar for the language.
func (b *SitterBridge) Supports(language string) bool {
	return languageFor(language) != nil
}

// Parse extracts entities and relations from one file. Errors are
// per-file: the caller records the failure and continues.
func (b *SitterBridge) Parse(filePath, language string, src []byte) (*Result, error) {
	lang := languageFor(language)
	if lang == nil {
		return nil, rserr.Newf(rserr.KindParse, "unsupported language %q for %s", language, filePath)
	}
	if !utf8.Valid(src) {
		return nil, rserr.Newf(rserr.KindParse, "%s is not valid UTF-8", filePath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), parseTimeout)
	defer cancel()

	p := sitter.NewParser()
	p.SetLanguage(lang)
	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, rserr.Parse(err, fmt.Sprintf("tree-sitter parse of %s failed", filePath))
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, rserr.Newf(rserr.KindParse, "no syntax tree for %s", filePath)
	}

	result := &Result{FilePath: filePath, Language: language}
	switch language {
	case "python":
		extractPython(root, src, filePath, result)
	case "javascript", "typescript":
		extractScript(root, src, filePath, result)
	}
	return result, nil
}

// qualify builds the path::symbol qualified name.
func qualify(filePath, symbol string) string {
	return filePath + "::" + symbol
}

func nodeText(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func endLineOf(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}
