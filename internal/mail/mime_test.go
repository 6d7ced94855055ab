package mail

import (
	"strings"
	"testing"
)

func TestTransformHTMLPlainLeafUntouched(t *testing.T) {
	tree := NewPlainPart("hello")

	out, res := TransformHTML(tree, strings.ToUpper)

	if res.Mutated {
		t.Error("plain leaf should not be mutated")
	}
	if out.(*TextPart).Content != "hello" {
		t.Errorf("content = %q, want hello", out.(*TextPart).Content)
	}
}

func TestTransformHTMLSingleLeaf(t *testing.T) {
	tree := NewHTMLPart("<body>hi</body>")

	out, res := TransformHTML(tree, func(s string) string { return s + "<img/>" })

	if !res.Mutated {
		t.Fatal("expected mutation")
	}
	if res.OriginalHTML != "<body>hi</body>" {
		t.Errorf("OriginalHTML = %q", res.OriginalHTML)
	}
	if got := out.(*TextPart).Content; got != "<body>hi</body><img/>" {
		t.Errorf("content = %q", got)
	}
	// input tree must be untouched
	if tree.Content != "<body>hi</body>" {
		t.Error("input leaf was mutated in place")
	}
}

func TestTransformHTMLNestedMultipart(t *testing.T) {
	tree := &Multipart{
		Kind: MultipartMixed,
		Children: []Part{
			&Multipart{
				Kind: MultipartAlternative,
				Children: []Part{
					NewPlainPart("text version"),
					NewHTMLPart("<p>html version</p>"),
				},
			},
			NewPlainPart("attachment placeholder"),
		},
	}

	out, res := TransformHTML(tree, func(s string) string { return "X" + s })

	if !res.Mutated {
		t.Fatal("expected mutation")
	}
	if res.OriginalHTML != "<p>html version</p>" {
		t.Errorf("OriginalHTML = %q", res.OriginalHTML)
	}

	root := out.(*Multipart)
	if root.Kind != MultipartMixed || len(root.Children) != 2 {
		t.Fatalf("structure changed: %+v", root)
	}
	alt := root.Children[0].(*Multipart)
	if alt.Children[0].(*TextPart).Content != "text version" {
		t.Error("plain sibling was rewritten")
	}
	if alt.Children[1].(*TextPart).Content != "X<p>html version</p>" {
		t.Errorf("html leaf = %q", alt.Children[1].(*TextPart).Content)
	}
}

func TestHTMLPartLookup(t *testing.T) {
	e := &Email{Body: &Multipart{
		Kind:     MultipartAlternative,
		Children: []Part{NewPlainPart("t"), NewHTMLPart("<b>h</b>")},
	}}

	if got := e.HTMLPart(); got == nil || got.Content != "<b>h</b>" {
		t.Errorf("HTMLPart() = %+v", got)
	}
	if got := e.PlainPart(); got == nil || got.Content != "t" {
		t.Errorf("PlainPart() = %+v", got)
	}

	empty := &Email{Body: NewPlainPart("only text")}
	if empty.HTMLPart() != nil {
		t.Error("HTMLPart() should be nil for text-only email")
	}
}
