package opcua

import (
	"context"
	"fmt"
	"strings"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/Iron-Ham/shadowbridge/internal/device"
)

// browseChildren returns the forward hierarchical references of node that
// point at objects or variables, following continuation points.
func browseChildren(ctx context.Context, sess session, node *ua.NodeID) ([]*ua.ReferenceDescription, error) {
	req := &ua.BrowseRequest{
		View: &ua.ViewDescription{ViewID: ua.NewTwoByteNodeID(0)},
		NodesToBrowse: []*ua.BrowseDescription{{
			NodeID:          node,
			BrowseDirection: ua.BrowseDirectionForward,
			ReferenceTypeID: ua.NewNumericNodeID(0, id.HierarchicalReferences),
			IncludeSubtypes: true,
			NodeClassMask:   uint32(ua.NodeClassObject | ua.NodeClassVariable),
			ResultMask:      uint32(ua.BrowseResultMaskAll),
		}},
	}

	resp, err := sess.Browse(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	res := resp.Results[0]
	if res.StatusCode != ua.StatusOK {
		return nil, fmt.Errorf("browse %s: %w", node, res.StatusCode)
	}
	refs := res.References

	for cp := res.ContinuationPoint; len(cp) > 0; {
		next, err := sess.BrowseNext(ctx, &ua.BrowseNextRequest{ContinuationPoints: [][]byte{cp}})
		if err != nil {
			return nil, err
		}
		if len(next.Results) == 0 {
			break
		}
		r := next.Results[0]
		if r.StatusCode != ua.StatusOK {
			return nil, fmt.Errorf("browse next %s: %w", node, r.StatusCode)
		}
		refs = append(refs, r.References...)
		cp = r.ContinuationPoint
	}
	return refs, nil
}

// walker collects dotted tag names below a root node.
type walker struct {
	sess     session
	prefix   string // literal prefix of the pattern, used to prune branches
	maxDepth int
	branches bool // report objects as names instead of descending into them
	found    map[string]*ua.NodeID
	visited  map[string]bool
}

func (w *walker) walk(ctx context.Context, root *ua.NodeID) ([]string, error) {
	w.visited = map[string]bool{root.String(): true}
	var names []string
	err := w.visit(ctx, root, "", 1, &names)
	return names, err
}

func (w *walker) visit(ctx context.Context, node *ua.NodeID, path string, depth int, names *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	refs, err := browseChildren(ctx, w.sess, node)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if ref.NodeID == nil || ref.NodeID.NodeID == nil || ref.BrowseName == nil {
			continue
		}
		child := ref.NodeID.NodeID
		// Namespace 0 holds the server's own standard nodes, not tags.
		if child.Namespace() == 0 {
			continue
		}

		name := ref.BrowseName.Name
		if path != "" {
			name = path + string(device.Separator) + name
		}

		switch ref.NodeClass {
		case ua.NodeClassVariable:
			w.found[name] = child
			*names = append(*names, name)
		case ua.NodeClassObject:
			if w.branches {
				*names = append(*names, name)
				continue
			}
			key := child.String()
			if w.visited[key] || depth >= w.maxDepth || !device.MayContain(name, w.prefix) {
				continue
			}
			w.visited[key] = true
			if err := w.visit(ctx, child, name, depth+1, names); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolvePath follows the dotted browse-name path from root. It returns nil
// without error when a segment does not exist.
func resolvePath(ctx context.Context, sess session, root *ua.NodeID, name string) (*ua.NodeID, error) {
	node := root
	for _, segment := range strings.Split(name, string(device.Separator)) {
		refs, err := browseChildren(ctx, sess, node)
		if err != nil {
			return nil, err
		}
		var next *ua.NodeID
		for _, ref := range refs {
			if ref.BrowseName != nil && ref.BrowseName.Name == segment && ref.NodeID != nil {
				next = ref.NodeID.NodeID
				break
			}
		}
		if next == nil {
			return nil, nil
		}
		node = next
	}
	return node, nil
}

// looksLikeNodeID reports whether name is written in NodeID notation.
func looksLikeNodeID(name string) bool {
	for _, p := range []string{"ns=", "i=", "s=", "g=", "b="} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
