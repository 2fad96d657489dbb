package azbatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/opensandbox/batchfleet/internal/batch"
)

func (g *Gateway) GetPool(ctx context.Context, poolID string) (*batch.Pool, error) {
	q := url.Values{"$select": {"id,allocationState,enableAutoScale,targetDedicatedNodes"}}
	var w poolWire
	if err := g.batch.do(ctx, batch.OpGetPool, http.MethodGet,
		g.batch.url(pathf("/pools/%s", poolID), q), nil, &w, http.StatusOK); err != nil {
		return nil, err
	}
	return w.toPool(), nil
}

func (g *Gateway) ResizePool(ctx context.Context, poolID string, targetNodes int, policy batch.DeallocationPolicy) error {
	body := resizeBody{TargetDedicatedNodes: targetNodes, NodeDeallocationOption: string(policy)}
	return g.batch.do(ctx, batch.OpResizePool, http.MethodPost,
		g.batch.url(pathf("/pools/%s/resize", poolID), nil), body, nil, http.StatusAccepted)
}

func (g *Gateway) StopResize(ctx context.Context, poolID string) error {
	return g.batch.do(ctx, batch.OpStopResize, http.MethodPost,
		g.batch.url(pathf("/pools/%s/stopresize", poolID), nil), nil, nil, http.StatusAccepted)
}

func (g *Gateway) DeletePool(ctx context.Context, poolID string) error {
	return g.batch.do(ctx, batch.OpDeletePool, http.MethodDelete,
		g.batch.url(pathf("/pools/%s", poolID), nil), nil, nil, http.StatusAccepted)
}

// RemoveNodes removes up to batch.MaxRemoveNodes nodes in a single request.
func (g *Gateway) RemoveNodes(ctx context.Context, poolID string, nodeIDs []string, policy batch.DeallocationPolicy) error {
	if len(nodeIDs) > batch.MaxRemoveNodes {
		return batch.Validation("nodeList", fmt.Sprintf("at most %d nodes per removal", batch.MaxRemoveNodes))
	}
	body := removeNodesBody{NodeList: nodeIDs, NodeDeallocationOption: string(policy)}
	return g.batch.do(ctx, batch.OpRemoveNodes, http.MethodPost,
		g.batch.url(pathf("/pools/%s/removenodes", poolID), nil), body, nil, http.StatusAccepted)
}

func (g *Gateway) ListNodes(ctx context.Context, poolID string, filter batch.NodeFilter) ([]batch.ComputeNode, error) {
	q := url.Values{"$select": {"id,state"}}
	if f := stateFilter(filter.States); f != "" {
		q.Set("$filter", f)
	}
	wires, err := listAll[nodeWire](ctx, &g.batch, batch.OpListNodes, g.batch.url(pathf("/pools/%s/nodes", poolID), q))
	if err != nil {
		return nil, err
	}
	nodes := make([]batch.ComputeNode, 0, len(wires))
	for _, w := range wires {
		nodes = append(nodes, batch.ComputeNode{ID: w.ID, State: batch.ParseNodeState(w.State)})
	}
	return nodes, nil
}

// stateFilter builds an OData filter matching any of states.
func stateFilter(states []batch.NodeState) string {
	clauses := make([]string, 0, len(states))
	for _, s := range states {
		clauses = append(clauses, "state eq '"+string(s)+"'")
	}
	return strings.Join(clauses, " or ")
}

func (g *Gateway) EnableScheduling(ctx context.Context, poolID, nodeID string) error {
	return g.batch.do(ctx, batch.OpEnableScheduling, http.MethodPost,
		g.batch.url(pathf("/pools/%s/nodes/%s/enablescheduling", poolID, nodeID), nil), nil, nil, http.StatusOK)
}

func (g *Gateway) RebootNode(ctx context.Context, poolID, nodeID string, option batch.RebootOption) error {
	return g.batch.do(ctx, batch.OpRebootNode, http.MethodPost,
		g.batch.url(pathf("/pools/%s/nodes/%s/reboot", poolID, nodeID), nil),
		rebootBody{NodeRebootOption: string(option)}, nil, http.StatusAccepted)
}
