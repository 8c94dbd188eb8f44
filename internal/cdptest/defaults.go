package cdptest

import "strconv"

// DocumentBackendID is the backend node id of every fake document.
const DocumentBackendID = 1

func (s *Server) installDefaults() {
	s.handlers["Target.getTargets"] = func(*Request) (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		infos := make([]map[string]interface{}, 0, len(s.targets))
		for _, t := range s.targets {
			infos = append(infos, targetInfo(t))
		}
		return map[string]interface{}{"targetInfos": infos}, nil
	}

	s.handlers["Target.createTarget"] = func(req *Request) (interface{}, error) {
		u := req.Get("url").String()
		if u == "" {
			u = "about:blank"
		}
		t := Target{ID: newTargetID(), Type: "page", URL: u, Title: u}
		s.mu.Lock()
		s.targets = append(s.targets, &t)
		s.mu.Unlock()
		req.Then(func() {
			s.EmitBrowser("Target.targetCreated", map[string]interface{}{"targetInfo": targetInfo(&t)})
		})
		return map[string]string{"targetId": t.ID}, nil
	}

	s.handlers["Target.closeTarget"] = func(req *Request) (interface{}, error) {
		id := req.Get("targetId").String()
		req.Then(func() { s.RemoveTarget(id) })
		return map[string]bool{"success": s.hasTarget(id)}, nil
	}

	s.handlers["Target.getTargetInfo"] = func(req *Request) (interface{}, error) {
		id := req.Get("targetId").String()
		if id == "" {
			id = req.TargetID
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, t := range s.targets {
			if t.ID == id {
				return map[string]interface{}{"targetInfo": targetInfo(t)}, nil
			}
		}
		return nil, &Error{Code: -32602, Message: "No target with given id found"}
	}

	s.handlers["Browser.getVersion"] = func(*Request) (interface{}, error) {
		return map[string]string{
			"protocolVersion": "1.3",
			"product":         "HeadlessChrome/120.0.0.0",
			"userAgent":       s.UserAgent(),
			"jsVersion":       "12.0",
		}, nil
	}

	s.handlers["DOM.getDocument"] = func(req *Request) (interface{}, error) {
		return map[string]interface{}{"root": map[string]interface{}{
			"nodeId":        1,
			"backendNodeId": DocumentBackendID,
			"nodeType":      9,
			"nodeName":      "#document",
			"localName":     "",
			"nodeValue":     "",
			"documentURL":   s.targetURL(req.TargetID),
		}}, nil
	}

	s.handlers["DOM.resolveNode"] = func(req *Request) (interface{}, error) {
		id := req.Get("backendNodeId").Int()
		obj := map[string]interface{}{
			"type":     "object",
			"subtype":  "node",
			"objectId": ObjectID(id),
		}
		if id == DocumentBackendID {
			obj["className"] = "HTMLDocument"
		} else {
			obj["className"] = "HTMLElement"
		}
		return map[string]interface{}{"object": obj}, nil
	}

	s.handlers["Page.getFrameTree"] = func(req *Request) (interface{}, error) {
		return map[string]interface{}{"frameTree": map[string]interface{}{
			"frame": map[string]interface{}{
				"id":             req.TargetID,
				"loaderId":       "L1",
				"url":            s.targetURL(req.TargetID),
				"securityOrigin": "",
				"mimeType":       "text/html",
			},
		}}, nil
	}
}

// ObjectID is the remote object id the default DOM.resolveNode hands out
// for a backend node id.
func ObjectID(backendID int64) string {
	return "obj-" + strconv.FormatInt(backendID, 10)
}

func (s *Server) targetURL(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.ID == id {
			return t.URL
		}
	}
	return ""
}

// SetTargetURL updates the URL listed for a page.
func (s *Server) SetTargetURL(id, u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.ID == id {
			t.URL, t.Title = u, u
		}
	}
}
