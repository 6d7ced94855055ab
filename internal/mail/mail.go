package mail

// Address is a display-name + email pair.
type Address struct {
	Name  string
	Email string
}

// Email is a fully rendered outgoing email, ready for the transport.
// The body is an explicit MIME part tree so tracking rewrites can walk
// it without depending on any mail-building library.
type Email struct {
	From    Address
	To      []Address
	Bcc     []Address
	Subject string
	Locale  string
	Headers map[string]string
	Body    Part
	NoTrack bool // suppresses tracking injection for this email
}

// Header returns the value of a header, or "" if unset.
func (e *Email) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[name]
}

// SetHeader sets a header on the email, allocating the map if needed.
func (e *Email) SetHeader(name, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[name] = value
}

// HTMLPart returns the first HTML leaf in the body tree, or nil.
func (e *Email) HTMLPart() *TextPart {
	return findLeaf(e.Body, SubtypeHTML)
}

// PlainPart returns the first plain-text leaf in the body tree, or nil.
func (e *Email) PlainPart() *TextPart {
	return findLeaf(e.Body, SubtypePlain)
}

func findLeaf(p Part, subtype string) *TextPart {
	switch part := p.(type) {
	case *TextPart:
		if part.Subtype == subtype {
			return part
		}
	case *Multipart:
		for _, child := range part.Children {
			if found := findLeaf(child, subtype); found != nil {
				return found
			}
		}
	}
	return nil
}
