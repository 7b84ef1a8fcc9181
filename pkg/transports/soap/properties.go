package soap

import (
	"context"

	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// RetrieveProperties implements vim.PropertyAPI.
func (c *Client) RetrieveProperties(ctx context.Context, ref vim.ObjectRef, paths []string) ([]vim.Property, error) {
	spec := types.PropertyFilterSpec{
		ObjectSet: []types.ObjectSpec{{Obj: toMoRef(ref)}},
		PropSet:   []types.PropertySpec{{Type: ref.Type, PathSet: paths}},
	}

	objects, err := c.retrieve(ctx, spec)
	if err != nil {
		return nil, err
	}

	var props []vim.Property
	for _, oc := range objects {
		props = append(props, properties(oc)...)
	}
	return props, nil
}

// RetrieveView implements vim.PropertyAPI. The view is destroyed before
// returning.
func (c *Client) RetrieveView(ctx context.Context, container vim.ObjectRef, kinds []string, paths []string) ([]vim.ObjectContent, error) {
	res, err := methods.CreateContainerView(ctx, c.vc, &types.CreateContainerView{
		This:      toMoRef(c.content.ViewManager),
		Container: toMoRef(container),
		Type:      kinds,
		Recursive: true,
	})
	if err != nil {
		return nil, translate("createContainerView", err)
	}
	view := res.Returnval
	defer func() {
		_, _ = methods.DestroyView(context.WithoutCancel(ctx), c.vc, &types.DestroyView{This: view})
	}()

	spec := types.PropertyFilterSpec{
		ObjectSet: []types.ObjectSpec{{
			Obj:  view,
			Skip: types.NewBool(true),
			SelectSet: []types.BaseSelectionSpec{
				&types.TraversalSpec{
					Type: "ContainerView",
					Path: "view",
				},
			},
		}},
	}
	for _, kind := range kinds {
		spec.PropSet = append(spec.PropSet, types.PropertySpec{Type: kind, PathSet: paths})
	}

	objects, err := c.retrieve(ctx, spec)
	if err != nil {
		return nil, err
	}

	contents := make([]vim.ObjectContent, 0, len(objects))
	for _, oc := range objects {
		contents = append(contents, vim.ObjectContent{
			Ref:        fromMoRef(oc.Obj),
			Properties: properties(oc),
		})
	}
	return contents, nil
}

// retrieve runs one property collector query, following continuation
// tokens until the result set is exhausted.
func (c *Client) retrieve(ctx context.Context, spec types.PropertyFilterSpec) ([]types.ObjectContent, error) {
	pc := toMoRef(c.content.PropertyCollector)

	res, err := methods.RetrievePropertiesEx(ctx, c.vc, &types.RetrievePropertiesEx{
		This:    pc,
		SpecSet: []types.PropertyFilterSpec{spec},
	})
	if err != nil {
		return nil, translate("retrieveProperties", err)
	}
	if res.Returnval == nil {
		return nil, nil
	}

	objects := res.Returnval.Objects
	token := res.Returnval.Token
	for token != "" {
		next, err := methods.ContinueRetrievePropertiesEx(ctx, c.vc, &types.ContinueRetrievePropertiesEx{
			This:  pc,
			Token: token,
		})
		if err != nil {
			return nil, translate("continueRetrieveProperties", err)
		}
		objects = append(objects, next.Returnval.Objects...)
		token = next.Returnval.Token
	}
	return objects, nil
}

func properties(oc types.ObjectContent) []vim.Property {
	props := make([]vim.Property, 0, len(oc.PropSet))
	for _, dp := range oc.PropSet {
		props = append(props, vim.Property{Name: dp.Name, Value: Convert(dp.Val)})
	}
	return props
}

// FindByIP implements vim.PropertyAPI.
func (c *Client) FindByIP(ctx context.Context, datacenter *vim.ObjectRef, ip string, vmSearch bool) (*vim.ObjectRef, error) {
	req := &types.FindByIp{
		This:     toMoRef(c.content.SearchIndex),
		Ip:       ip,
		VmSearch: vmSearch,
	}
	if datacenter != nil {
		dc := toMoRef(*datacenter)
		req.Datacenter = &dc
	}

	res, err := methods.FindByIp(ctx, c.vc, req)
	if err != nil {
		return nil, translate("findByIp", err)
	}
	if res.Returnval == nil {
		return nil, nil
	}
	ref := fromMoRef(*res.Returnval)
	return &ref, nil
}
