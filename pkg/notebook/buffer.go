package notebook

// TemplateSource supplies the default code for a step. The notebook
// definition owns templates; the buffer store only falls back to them.
type TemplateSource interface {
	// Template returns the default source for stepID and whether one exists.
	Template(stepID string) (string, bool)
}

// TemplateMap is a TemplateSource backed by a plain map.
type TemplateMap map[string]string

// Template implements TemplateSource.
func (m TemplateMap) Template(stepID string) (string, bool) {
	s, ok := m[stepID]
	return s, ok
}

// bufferStore maps step IDs to user overrides of the template source.
// It is not safe for concurrent use; the Controller guards it.
type bufferStore struct {
	overrides map[string]string
	templates TemplateSource
}

func newBufferStore(templates TemplateSource) *bufferStore {
	return &bufferStore{
		overrides: make(map[string]string),
		templates: templates,
	}
}

// get returns the override for stepID, the template, or "".
func (b *bufferStore) get(stepID string) string {
	src, _ := b.resolve(stepID)
	return src
}

// resolve is get plus whether any source (override or template) exists.
func (b *bufferStore) resolve(stepID string) (string, bool) {
	if s, ok := b.overrides[stepID]; ok {
		return s, true
	}
	if b.templates != nil {
		if s, ok := b.templates.Template(stepID); ok {
			return s, true
		}
	}
	return "", false
}

func (b *bufferStore) set(stepID, text string) {
	b.overrides[stepID] = text
}

// isEdited is true iff an override exists, even when it equals the template.
func (b *bufferStore) isEdited(stepID string) bool {
	_, ok := b.overrides[stepID]
	return ok
}

// revert drops the override and reports whether one existed.
func (b *bufferStore) revert(stepID string) bool {
	if _, ok := b.overrides[stepID]; !ok {
		return false
	}
	delete(b.overrides, stepID)
	return true
}
