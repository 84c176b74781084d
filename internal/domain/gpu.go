package domain

// TagPreferredTier marks a device whose name matched the preferred product family
const TagPreferredTier = "preferred-tier"

// GPUDescriptor describes one local accelerator device
type GPUDescriptor struct {
	Index int
	Name  string
	UUID  string
	Tags  []string
}

// HasTag reports whether the descriptor carries tag
func (g GPUDescriptor) HasTag(tag string) bool {
	for _, t := range g.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
