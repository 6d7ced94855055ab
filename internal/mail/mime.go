package mail

// Part is a node in the MIME body tree: either a typed content leaf
// or a multipart container with ordered children.
type Part interface {
	isPart()
}

// Text subtypes used by the tree.
const (
	SubtypePlain = "plain"
	SubtypeHTML  = "html"
)

// Multipart container kinds.
const (
	MultipartAlternative = "alternative"
	MultipartMixed       = "mixed"
	MultipartRelated     = "related"
)

// TextPart is a leaf holding textual content of a given subtype.
type TextPart struct {
	Subtype string // "plain" or "html"
	Charset string
	Content string
}

func (*TextPart) isPart() {}

// NewHTMLPart returns an HTML leaf with the default charset.
func NewHTMLPart(content string) *TextPart {
	return &TextPart{Subtype: SubtypeHTML, Charset: "utf-8", Content: content}
}

// NewPlainPart returns a plain-text leaf with the default charset.
func NewPlainPart(content string) *TextPart {
	return &TextPart{Subtype: SubtypePlain, Charset: "utf-8", Content: content}
}

// Multipart is a container node ("alternative", "mixed" or "related")
// with ordered children.
type Multipart struct {
	Kind     string
	Children []Part
}

func (*Multipart) isPart() {}

// TransformResult reports what a tree transform touched.
type TransformResult struct {
	Mutated      bool
	OriginalHTML string // pre-transform content of the first rewritten HTML leaf
}

// TransformHTML returns a copy of the tree in which every HTML leaf has
// been replaced by fn's output. Non-HTML leaves and the container
// structure pass through unchanged. The input tree is not modified.
func TransformHTML(p Part, fn func(html string) string) (Part, TransformResult) {
	var res TransformResult
	out := transform(p, fn, &res)
	return out, res
}

func transform(p Part, fn func(string) string, res *TransformResult) Part {
	switch part := p.(type) {
	case *TextPart:
		if part.Subtype != SubtypeHTML {
			return part
		}
		if !res.Mutated {
			res.OriginalHTML = part.Content
		}
		res.Mutated = true
		return &TextPart{Subtype: SubtypeHTML, Charset: part.Charset, Content: fn(part.Content)}
	case *Multipart:
		children := make([]Part, len(part.Children))
		for i, child := range part.Children {
			children[i] = transform(child, fn, res)
		}
		return &Multipart{Kind: part.Kind, Children: children}
	default:
		return p
	}
}
