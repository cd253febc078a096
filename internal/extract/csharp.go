package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"

	"github.com/yucchiy/UnityApiAnalyzer/internal/surface"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// declaredType is one public type found in a single file. Partial types show
// up once per file and are merged by id afterwards.
type declaredType struct {
	id      string
	members []surface.Member
}

// fileSurface is what one source file contributes to a project.
type fileSurface struct {
	types        []declaredType
	syntaxErrors bool
}

// parseFile parses C# source and collects the public types and members it
// declares. Syntax errors do not fail the parse; whatever tree-sitter
// recovered is used.
func parseFile(ctx context.Context, src []byte) (*fileSurface, error) {
	src = bytes.TrimPrefix(src, utf8BOM)

	parser := sitter.NewParser()
	parser.SetLanguage(csharp.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root node")
	}

	c := &collector{src: src, out: &fileSurface{syntaxErrors: root.HasError()}}
	c.declarations(root, "")
	return c.out, nil
}

type collector struct {
	src []byte
	out *fileSurface
}

// typeScope describes the type whose body is being walked.
type typeScope struct {
	index       int
	id          string
	isInterface bool
}

func (c *collector) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(c.src)
}

// declarations walks namespace-level declarations.
func (c *collector) declarations(node *sitter.Node, ns string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "namespace_declaration":
			name := compact(c.text(child.ChildByFieldName("name")))
			if body := child.ChildByFieldName("body"); body != nil {
				c.declarations(body, qualify(ns, name))
			}
		case "file_scoped_namespace_declaration":
			// Members are siblings in some grammar revisions and children in
			// others.
			ns = qualify(ns, compact(c.text(child.ChildByFieldName("name"))))
			c.declarations(child, ns)
		case "declaration_list":
			c.declarations(child, ns)
		default:
			if isTypeDeclaration(child.Type()) {
				c.typeDeclaration(child, ns, nil)
			}
		}
	}
}

func isTypeDeclaration(kind string) bool {
	switch kind {
	case "class_declaration", "struct_declaration", "interface_declaration",
		"enum_declaration", "record_declaration", "record_struct_declaration",
		"delegate_declaration":
		return true
	}
	return false
}

func (c *collector) typeDeclaration(node *sitter.Node, ns string, parent *typeScope) {
	mods := c.modifiers(node)
	if !visible(mods, parent) {
		return
	}

	name := c.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	if n := c.arity(node); n > 0 {
		name += "`" + strconv.Itoa(n)
	}

	id := qualify(ns, name)
	if parent != nil {
		id = parent.id + "." + name
	}

	scope := &typeScope{
		index:       len(c.out.types),
		id:          id,
		isInterface: node.Type() == "interface_declaration",
	}
	c.out.types = append(c.out.types, declaredType{
		id:      id,
		members: []surface.Member{{Kind: surface.KindType, ID: "T:" + id}},
	})

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}

	if node.Type() == "enum_declaration" {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			m := body.NamedChild(i)
			if m.Type() != "enum_member_declaration" {
				continue
			}
			if n := c.text(m.ChildByFieldName("name")); n != "" {
				c.add(scope, surface.KindField, n)
			}
		}
		return
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		c.member(body.NamedChild(i), ns, scope)
	}
}

func (c *collector) member(node *sitter.Node, ns string, scope *typeScope) {
	kind := node.Type()
	if isTypeDeclaration(kind) {
		c.typeDeclaration(node, ns, scope)
		return
	}

	mods := c.modifiers(node)
	if !visible(mods, scope) || c.explicitImplementation(node) {
		return
	}

	switch kind {
	case "method_declaration":
		name := c.text(node.ChildByFieldName("name"))
		if n := c.arity(node); n > 0 {
			name += "``" + strconv.Itoa(n)
		}
		c.add(scope, surface.KindMethod, name+c.parameters(node.ChildByFieldName("parameters")))

	case "constructor_declaration":
		if mods["static"] {
			return
		}
		c.add(scope, surface.KindMethod, "#ctor"+c.parameters(node.ChildByFieldName("parameters")))

	case "property_declaration":
		c.add(scope, surface.KindProperty, c.text(node.ChildByFieldName("name")))

	case "indexer_declaration":
		c.add(scope, surface.KindProperty, "Item"+c.parameters(node.ChildByFieldName("parameters")))

	case "event_declaration":
		c.add(scope, surface.KindEvent, c.text(node.ChildByFieldName("name")))

	case "field_declaration":
		for _, n := range c.declarators(node) {
			c.add(scope, surface.KindField, n)
		}

	case "event_field_declaration":
		for _, n := range c.declarators(node) {
			c.add(scope, surface.KindEvent, n)
		}

	case "operator_declaration":
		params := node.ChildByFieldName("parameters")
		op := operatorName(compact(c.text(node.ChildByFieldName("operator"))), c.parameterCount(params))
		c.add(scope, surface.KindMethod, op+c.parameters(params))

	case "conversion_operator_declaration":
		op := "op_Explicit"
		for i := 0; i < int(node.ChildCount()); i++ {
			if node.Child(i).Type() == "implicit" {
				op = "op_Implicit"
				break
			}
		}
		ret := docType(c.text(node.ChildByFieldName("type")))
		c.add(scope, surface.KindMethod, op+c.parameters(node.ChildByFieldName("parameters"))+"~"+ret)
	}
}

func (c *collector) add(scope *typeScope, kind surface.MemberKind, name string) {
	if name == "" {
		return
	}
	t := &c.out.types[scope.index]
	t.members = append(t.members, surface.Member{
		Kind: kind,
		ID:   string(kind) + ":" + scope.id + "." + name,
	})
}

// modifiers returns the declaration's modifier keywords.
func (c *collector) modifiers(node *sitter.Node) map[string]bool {
	mods := make(map[string]bool)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "modifier":
			mods[strings.TrimSpace(c.text(child))] = true
		case "public", "private", "protected", "internal", "static", "partial":
			mods[child.Type()] = true
		}
	}
	return mods
}

// visible reports whether a declaration with mods is part of the public
// surface. Interface members without an access modifier are public.
func visible(mods map[string]bool, parent *typeScope) bool {
	if mods["public"] {
		return true
	}
	if parent == nil || !parent.isInterface {
		return false
	}
	return !mods["private"] && !mods["protected"] && !mods["internal"]
}

func (c *collector) explicitImplementation(node *sitter.Node) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == "explicit_interface_specifier" {
			return true
		}
	}
	return false
}

// arity counts generic type parameters.
func (c *collector) arity(node *sitter.Node) int {
	list := node.ChildByFieldName("type_parameters")
	if list == nil {
		return 0
	}
	n := 0
	for i := 0; i < int(list.NamedChildCount()); i++ {
		if list.NamedChild(i).Type() == "type_parameter" {
			n++
		}
	}
	return n
}

// declarators lists the variable names of a field or event field declaration.
func (c *collector) declarators(node *sitter.Node) []string {
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != "variable_declaration" {
			continue
		}
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			v := decl.NamedChild(j)
			if v.Type() != "variable_declarator" {
				continue
			}
			name := c.text(v.ChildByFieldName("name"))
			if name == "" {
				for k := 0; k < int(v.NamedChildCount()); k++ {
					if id := v.NamedChild(k); id.Type() == "identifier" {
						name = c.text(id)
						break
					}
				}
			}
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func (c *collector) parameterCount(list *sitter.Node) int {
	if list == nil {
		return 0
	}
	n := 0
	for i := 0; i < int(list.NamedChildCount()); i++ {
		if list.NamedChild(i).Type() == "parameter" {
			n++
		}
	}
	return n
}

// parameters renders a parameter list the way documentation ids do: types
// only, comma separated, "@" for by-reference parameters and nothing at all
// for an empty list.
func (c *collector) parameters(list *sitter.Node) string {
	if list == nil {
		return ""
	}
	var types []string
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		if p.Type() != "parameter" {
			continue
		}
		types = append(types, c.parameterType(p))
	}
	if len(types) == 0 {
		return ""
	}
	return "(" + strings.Join(types, ",") + ")"
}

func (c *collector) parameterType(p *sitter.Node) string {
	name := p.ChildByFieldName("name")
	byRef := false
	var sb strings.Builder
	for i := 0; i < int(p.ChildCount()); i++ {
		child := p.Child(i)
		if name != nil && child.StartByte() == name.StartByte() && child.EndByte() == name.EndByte() {
			continue
		}
		switch child.Type() {
		case "attribute_list", "equals_value_clause", "=":
			continue
		case "ref", "out", "in":
			byRef = true
			continue
		case "this", "params", "scoped", "readonly":
			continue
		case "modifier", "parameter_modifier":
			switch strings.TrimSpace(c.text(child)) {
			case "ref", "out", "in":
				byRef = true
			}
			continue
		}
		sb.WriteString(c.text(child))
	}
	t := docType(sb.String())
	if byRef {
		t += "@"
	}
	return t
}

var operatorNames = map[string]string{
	"*":     "op_Multiply",
	"/":     "op_Division",
	"%":     "op_Modulus",
	"==":    "op_Equality",
	"!=":    "op_Inequality",
	"<":     "op_LessThan",
	">":     "op_GreaterThan",
	"<=":    "op_LessThanOrEqual",
	">=":    "op_GreaterThanOrEqual",
	"!":     "op_LogicalNot",
	"~":     "op_OnesComplement",
	"++":    "op_Increment",
	"--":    "op_Decrement",
	"true":  "op_True",
	"false": "op_False",
	"&":     "op_BitwiseAnd",
	"|":     "op_BitwiseOr",
	"^":     "op_ExclusiveOr",
	"<<":    "op_LeftShift",
	">>":    "op_RightShift",
	">>>":   "op_UnsignedRightShift",
}

func operatorName(op string, params int) string {
	switch op {
	case "+":
		if params == 1 {
			return "op_UnaryPlus"
		}
		return "op_Addition"
	case "-":
		if params == 1 {
			return "op_UnaryNegation"
		}
		return "op_Subtraction"
	}
	if name, ok := operatorNames[op]; ok {
		return name
	}
	return "op_" + op
}

// docType normalizes a source type spelling: whitespace removed and generic
// brackets written as braces.
func docType(s string) string {
	s = compact(s)
	s = strings.ReplaceAll(s, "<", "{")
	return strings.ReplaceAll(s, ">", "}")
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func qualify(ns, name string) string {
	if ns == "" {
		return name
	}
	if name == "" {
		return ns
	}
	return ns + "." + name
}
