package yaml

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

func Unmarshal(in []byte, out any) error {
	return yaml.Unmarshal(in, out)
}

func Encode(v any, indent int) ([]byte, error) {
	b := bytes.NewBuffer(nil)
	e := yaml.NewEncoder(b)
	e.SetIndent(indent)

	if err := e.Encode(v); err != nil {
		return nil, err
	}
	if err := e.Close(); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Patch sets value by path of keys, keeping comments and other keys.
// Missing parents are created, nil value removes the key.
func Patch(src []byte, path []string, value any) ([]byte, error) {
	if len(path) == 0 {
		return nil, errors.New("yaml: empty path")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, err
	}

	if root.Kind == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(root.Content) == 0 {
		root.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}

	parent := root.Content[0]
	for _, key := range path[:len(path)-1] {
		if parent.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("yaml: %s is not a map", key)
		}

		_, child := FindChild(parent, key)
		if child == nil {
			if value == nil {
				return src, nil
			}
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			parent.Content = append(parent.Content, newKey(key), child)
		}
		parent = child
	}

	if parent.Kind != yaml.MappingNode {
		// empty section like "client:" is parsed as null scalar
		if parent.Tag != "!!null" {
			return nil, fmt.Errorf("yaml: parent of %s is not a map", path[len(path)-1])
		}
		*parent = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	key := path[len(path)-1]

	if value == nil {
		removeChild(parent, key)
	} else {
		var node yaml.Node
		if err := node.Encode(value); err != nil {
			return nil, err
		}

		if _, child := FindChild(parent, key); child != nil {
			// keep line comments of old value
			node.LineComment = child.LineComment
			*child = node
		} else {
			parent.Content = append(parent.Content, newKey(key), &node)
		}
	}

	return Encode(&root, 2)
}

// FindChild - search YAML key/value pair in mapping node
func FindChild(node *yaml.Node, name string) (key, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == name {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

func removeChild(node *yaml.Node, name string) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == name {
			node.Content = append(node.Content[:i], node.Content[i+2:]...)
			return
		}
	}
}

func newKey(name string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
}
