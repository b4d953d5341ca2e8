package vm

import "github.com/quill-vm/quill/heap"

// Superclasses walks p's Base chain from the immediate superclass up to
// and including the root class that has no Base (Object for every class
// built by the bootstrap library).
func Superclasses(p heap.Ptr[Class]) []heap.Ptr[Class] {
	var chain []heap.Ptr[Class]
	for {
		self := p.Get()
		if self.Base.IsNil() {
			return chain
		}
		chain = append(chain, self.Base)
		p = self.Base
	}
}

// OwnMethodNames returns the names of methods defined directly on p,
// excluding anything only present via the lookup cache.
func OwnMethodNames(p heap.Ptr[Class]) []string {
	self := p.Get()
	names := make([]string, 0, len(self.Methods))
	for name, entry := range self.Methods {
		if entry.Own {
			names = append(names, name)
		}
	}
	return names
}
