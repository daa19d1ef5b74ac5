package bridge

import (
	"strings"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

func ruleRoutes(h *handler) *family {
	return &family{name: "rules", h: h, routes: []route{
		get(`^/api/(\w+)/rules$`, h.getRules),
		post(`^/api/(\w+)/rules$`, h.createRule),
		get(`^/api/(\w+)/rules/(\w+)$`, h.getRule),
		put(`^/api/(\w+)/rules/(\w+)$`, h.putRule),
		del(`^/api/(\w+)/rules/(\w+)$`, h.deleteRule),
	}}
}

func (h *handler) getRules(_ Request, _ []string) Response {
	return jsonResponse(h.ds.Rules())
}

func (h *handler) getRule(_ Request, m []string) Response {
	r, err := h.ds.Rule(m[2])
	if err != nil {
		return notAvailable("/rules/" + m[2])
	}
	return jsonResponse(r)
}

func (h *handler) createRule(req Request, m []string) Response {
	rule := hue.NewRule(m[1], h.ds.Now())
	h.applyRuleAttributes(&rule, req.Body, nil)
	id, err := h.ds.CreateRule(rule)
	if err != nil {
		h.logger.Error("create rule", "err", err)
		return internalError("/rules")
	}
	h.emit(events.RuleCreated, id, nil)
	return created(id)
}

func (h *handler) putRule(req Request, m []string) Response {
	id := m[2]
	rule, err := h.ds.Rule(id)
	if err != nil {
		return notAvailable("/rules/" + id)
	}
	var r results
	h.applyRuleAttributes(&rule, req.Body, func(key string, value any) {
		r.success("/rules/"+id+"/"+key, value)
	})
	if err := h.ds.UpdateRule(id, rule); err != nil {
		return failure(err, "/rules/"+id)
	}
	h.emit(events.RuleModified, id, nil)
	return r.response()
}

func (h *handler) applyRuleAttributes(rule *hue.Rule, body Body, ok func(key string, value any)) {
	report := func(key string, value any) {
		if ok != nil {
			ok(key, value)
		}
	}
	for _, key := range body.Keys() {
		switch key {
		case "name":
			if v, valid := body.String(key); valid {
				rule.Name = v
				report(key, v)
			}
		case "status":
			if v, valid := body.String(key); valid {
				rule.Status = v
				report(key, v)
			}
		case "recycle":
			if v, valid := body.Bool(key); valid {
				rule.Recycle = v
				report(key, v)
			}
		case "conditions":
			if conds, valid := h.parseConditions(body); valid {
				rule.Conditions = conds
				report(key, conds)
			}
		case "actions":
			if actions, valid := h.parseActions(body); valid {
				rule.Actions = actions
				report(key, actions)
			}
		}
	}
}

// parseConditions keeps the conditions that observe a sensor state
// attribute; the rest are logged and dropped.
func (h *handler) parseConditions(body Body) ([]hue.Condition, bool) {
	var raw []struct {
		Address  string `json:"address"`
		Operator string `json:"operator"`
		Value    any    `json:"value"`
	}
	if err := body.Decode("conditions", &raw); err != nil {
		h.logger.Warn("invalid rule conditions", "err", err)
		return nil, false
	}
	conds := make([]hue.Condition, 0, len(raw))
	for _, c := range raw {
		cond := hue.Condition{Address: c.Address, Operator: c.Operator, Value: hue.ToString(c.Value)}
		if _, _, ok := cond.Target(); !ok {
			h.logger.Warn("skipping rule condition", "address", c.Address)
			continue
		}
		conds = append(conds, cond)
	}
	return conds, true
}

func (h *handler) parseActions(body Body) ([]hue.Action, bool) {
	var raw []hue.Action
	if err := body.Decode("actions", &raw); err != nil {
		h.logger.Warn("invalid rule actions", "err", err)
		return nil, false
	}
	actions := make([]hue.Action, 0, len(raw))
	for _, a := range raw {
		if !strings.HasPrefix(a.Address, "/") {
			h.logger.Warn("skipping rule action", "address", a.Address)
			continue
		}
		a.Method = strings.ToUpper(a.Method)
		actions = append(actions, a)
	}
	return actions, true
}

func (h *handler) deleteRule(_ Request, m []string) Response {
	id := m[2]
	if err := h.ds.DeleteRule(id); err != nil {
		return failure(err, "/rules/"+id)
	}
	h.emit(events.RuleDeleted, id, nil)
	return deleted("/rules/" + id)
}
