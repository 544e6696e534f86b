package chunker

import (
	"path"
	"strings"
)

// Strategy is the chunking strategy tag selected for a file.
type Strategy string

const (
	// StrategySource splits general-purpose source code on declaration
	// boundaries before blank lines and lines.
	StrategySource Strategy = "source"
	// StrategyText splits prose and configuration on paragraphs and lines.
	StrategyText Strategy = "text"
	// StrategySQL splits on statement boundaries using the SQL tokenizer.
	StrategySQL Strategy = "sql"
	// StrategyIgnore produces no chunks.
	StrategyIgnore Strategy = "ignore"
)

// class pairs a strategy with the separators used by the recursive splitter.
type class struct {
	strategy   Strategy
	separators []string
}

// Separators are tried in order; the trailing "" splits on characters.
var (
	textSeparators = []string{"\n\n", "\n", " ", ""}

	goSeparators = []string{
		"\nfunc ", "\ntype ", "\nvar ", "\nconst ",
		"\n\n", "\n", " ", "",
	}
	pythonSeparators = []string{
		"\nclass ", "\ndef ", "\n\tdef ", "\n    def ",
		"\n\n", "\n", " ", "",
	}
	jsSeparators = []string{
		"\nexport ", "\nfunction ", "\nclass ", "\nconst ", "\nlet ", "\nvar ",
		"\nif ", "\nfor ", "\nwhile ", "\nswitch ",
		"\n\n", "\n", " ", "",
	}
	cFamilySeparators = []string{
		"\nclass ", "\ninterface ", "\nenum ", "\nstruct ",
		"\npublic ", "\nprotected ", "\nprivate ", "\nstatic ",
		"\nvoid ", "\nint ", "\nnamespace ",
		"\n\n", "\n", " ", "",
	}
	rustSeparators = []string{
		"\nfn ", "\npub fn ", "\nimpl ", "\nstruct ", "\nenum ", "\ntrait ", "\nmod ",
		"\n\n", "\n", " ", "",
	}
	rubySeparators = []string{
		"\nclass ", "\nmodule ", "\ndef ",
		"\n\n", "\n", " ", "",
	}
	phpSeparators = []string{
		"\nclass ", "\nfunction ", "\ninterface ", "\ntrait ",
		"\n\n", "\n", " ", "",
	}
	shellSeparators = []string{
		"\nfunction ", "\nif ", "\nfor ", "\ncase ",
		"\n\n", "\n", " ", "",
	}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n```",
		"\n\n", "\n", " ", "",
	}
	markupSeparators = []string{
		"\n<div", "\n<section", "\n<table", "\n<p", "\n<h1", "\n<h2", "\n<h3",
		"\n\n", "\n", " ", "",
	}
)

var (
	source   = func(seps []string) class { return class{StrategySource, seps} }
	text     = class{StrategyText, textSeparators}
	sqlClass = class{StrategySQL, nil}
	ignore   = class{StrategyIgnore, nil}
)

// extensionTable maps a lower-cased extension to its chunking class.
// Extensions not listed are chunked as plain text.
var extensionTable = map[string]class{
	// General-purpose source
	".go":     source(goSeparators),
	".py":     source(pythonSeparators),
	".pyi":    source(pythonSeparators),
	".js":     source(jsSeparators),
	".jsx":    source(jsSeparators),
	".mjs":    source(jsSeparators),
	".cjs":    source(jsSeparators),
	".ts":     source(jsSeparators),
	".tsx":    source(jsSeparators),
	".vue":    source(jsSeparators),
	".svelte": source(jsSeparators),
	".java":   source(cFamilySeparators),
	".kt":     source(cFamilySeparators),
	".kts":    source(cFamilySeparators),
	".scala":  source(cFamilySeparators),
	".cs":     source(cFamilySeparators),
	".c":      source(cFamilySeparators),
	".h":      source(cFamilySeparators),
	".cc":     source(cFamilySeparators),
	".cpp":    source(cFamilySeparators),
	".hpp":    source(cFamilySeparators),
	".m":      source(cFamilySeparators),
	".swift":  source(cFamilySeparators),
	".dart":   source(cFamilySeparators),
	".rs":     source(rustSeparators),
	".rb":     source(rubySeparators),
	".php":    source(phpSeparators),
	".sh":     source(shellSeparators),
	".bash":   source(shellSeparators),
	".zsh":    source(shellSeparators),
	".lua":    source(textSeparators),
	".ex":     source(rubySeparators),
	".exs":    source(rubySeparators),

	// Plain text, docs and configuration
	".md":       {StrategyText, markdownSeparators},
	".markdown": {StrategyText, markdownSeparators},
	".mdx":      {StrategyText, markdownSeparators},
	".html":     {StrategyText, markupSeparators},
	".htm":      {StrategyText, markupSeparators},
	".xml":      {StrategyText, markupSeparators},
	".txt":      text,
	".rst":      text,
	".json":     text,
	".yaml":     text,
	".yml":      text,
	".toml":     text,
	".ini":      text,
	".cfg":      text,
	".env":      text,
	".csv":      text,
	".css":      text,
	".scss":     text,
	".proto":    text,
	".graphql":  text,

	// Structured query language
	".sql":   sqlClass,
	".ddl":   sqlClass,
	".dml":   sqlClass,
	".psql":  sqlClass,
	".pgsql": sqlClass,

	// Binary and generated artifacts
	".png": ignore, ".jpg": ignore, ".jpeg": ignore, ".gif": ignore, ".bmp": ignore,
	".ico": ignore, ".webp": ignore, ".svg": ignore, ".tiff": ignore, ".psd": ignore,
	".pdf": ignore, ".doc": ignore, ".docx": ignore, ".xls": ignore, ".xlsx": ignore,
	".ppt": ignore, ".pptx": ignore,
	".zip": ignore, ".gz": ignore, ".tgz": ignore, ".bz2": ignore, ".xz": ignore,
	".tar": ignore, ".7z": ignore, ".rar": ignore, ".jar": ignore, ".war": ignore,
	".exe": ignore, ".dll": ignore, ".so": ignore, ".dylib": ignore, ".a": ignore,
	".o": ignore, ".obj": ignore, ".class": ignore, ".pyc": ignore, ".wasm": ignore,
	".bin": ignore, ".dat": ignore, ".db": ignore, ".sqlite": ignore,
	".woff": ignore, ".woff2": ignore, ".ttf": ignore, ".otf": ignore, ".eot": ignore,
	".mp3": ignore, ".mp4": ignore, ".mov": ignore, ".avi": ignore, ".wav": ignore,
	".ogg": ignore, ".flac": ignore, ".webm": ignore,
	".lock": ignore, ".map": ignore, ".snap": ignore,
}

// ignoredNames are generated files matched by base name.
var ignoredNames = map[string]bool{
	"go.sum":            true,
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"yarn.lock":         true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"Gemfile.lock":      true,
}

// ignoredSuffixes are minified or generated bundles.
var ignoredSuffixes = []string{".min.js", ".min.css", ".bundle.js", ".pb.go", "_generated.go"}

func classify(filePath string) class {
	base := path.Base(filePath)
	if ignoredNames[base] {
		return ignore
	}
	lower := strings.ToLower(base)
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return ignore
		}
	}
	if c, ok := extensionTable[path.Ext(lower)]; ok {
		return c
	}
	return text
}

// Classify returns the chunking strategy for a repository-relative path.
func Classify(filePath string) Strategy {
	return classify(filePath).strategy
}
