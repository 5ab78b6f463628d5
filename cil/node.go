package cil

import (
	"github.com/wippyai/cli-metadata/metadata"
)

// node carries what every metadata-backed object shares: the owning module,
// its token and its custom attributes.
type node struct {
	module           *Module
	token            metadata.Token
	customAttributes lazy[[]*CustomAttribute]
}

func newNode() node {
	return node{customAttributes: resolvedLazy[[]*CustomAttribute](nil)}
}

func readNode(m *Module, tok metadata.Token) node {
	return node{module: m, token: tok}
}

// Token returns the metadata token, or the null token for nodes that were
// created in memory and not yet written.
func (n *node) Token() metadata.Token { return n.token }

// Module returns the module that owns the node.
func (n *node) Module() *Module { return n.module }

// CustomAttributes returns the attributes applied to the node.
func (n *node) CustomAttributes() ([]*CustomAttribute, error) {
	defer n.module.lock()()
	return n.attributesLocked()
}

func (n *node) attributesLocked() ([]*CustomAttribute, error) {
	return n.customAttributes.force(func() ([]*CustomAttribute, error) {
		return n.module.readCustomAttributes(n.token)
	})
}

// AddCustomAttribute appends an attribute.
func (n *node) AddCustomAttribute(ca *CustomAttribute) error {
	defer n.module.lock()()
	cas, err := n.attributesLocked()
	if err != nil {
		return err
	}
	if ca.module == nil {
		ca.module = n.module
	}
	n.customAttributes.set(append(cas, ca))
	return nil
}

// RemoveCustomAttribute removes ca and reports whether it was present.
func (n *node) RemoveCustomAttribute(ca *CustomAttribute) (bool, error) {
	defer n.module.lock()()
	cas, err := n.attributesLocked()
	if err != nil {
		return false, err
	}
	for i, c := range cas {
		if c == ca {
			n.customAttributes.set(append(cas[:i:i], cas[i+1:]...))
			return true, nil
		}
	}
	return false, nil
}

// CustomAttributeProvider is implemented by every node that can carry custom
// attributes.
type CustomAttributeProvider interface {
	Token() metadata.Token
	CustomAttributes() ([]*CustomAttribute, error)
	AddCustomAttribute(ca *CustomAttribute) error
	attributesLocked() ([]*CustomAttribute, error)
}

// securable is embedded by nodes that can carry declarative security.
type securable struct {
	security lazy[[]*SecurityDeclaration]
}

func (s *securable) securityLocked(m *Module, owner metadata.Token) ([]*SecurityDeclaration, error) {
	return s.security.force(func() ([]*SecurityDeclaration, error) {
		return m.readSecurityDeclarations(owner)
	})
}

func (s *securable) addSecurityLocked(m *Module, owner metadata.Token, sd *SecurityDeclaration) error {
	sds, err := s.securityLocked(m, owner)
	if err != nil {
		return err
	}
	if sd.module == nil {
		sd.module = m
	}
	s.security.set(append(sds, sd))
	return nil
}
