package email

// Content dispositions for attachments.
const (
	DispositionAttachment = "attachment"
	DispositionInline     = "inline"
)

// Part is a node of the message body tree. It is one of *Leaf, *Container
// or *Attachment.
type Part interface {
	MediaType() string
	isPart()
}

// Leaf is a single content fragment such as a text/plain or text/html body.
type Leaf struct {
	ContentType string
	Body        []byte
}

func (l *Leaf) MediaType() string { return l.ContentType }
func (*Leaf) isPart()             {}

// Container is a multipart node holding ordered child parts.
type Container struct {
	ContentType string
	Children    []Part
}

func (c *Container) MediaType() string { return c.ContentType }
func (*Container) isPart()             {}

// Attachment is a leaf carrying a file. ContentID is used for inline (cid:)
// references and is stored without angle brackets.
type Attachment struct {
	Leaf
	Filename    string
	Disposition string
	ContentID   string
}

// Inline reports whether the attachment is not a plain attachment and can be
// referenced from the body by its content id.
func (a *Attachment) Inline() bool {
	return a.Disposition != DispositionAttachment && a.ContentID != ""
}
