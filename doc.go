// Package mcpbridge assembles an MCP server with OAuth protection: a
// JSON-RPC 2.0 dispatcher with an authorization gate in front of every
// registered method, and an OAuth bridging proxy that lets dynamically
// registered downstream clients authenticate through a single upstream
// provider registration.
//
// A minimal server registers its methods on an mcp.Registry, picks a token
// verifier, and hands both to NewServer:
//
//	registry := mcp.NewRegistry()
//	registry.MustRegister(&mcp.MethodDescriptor{
//		Name: "add",
//		Params: []mcp.ParamSpec{
//			{Name: "a", Kind: mcp.ParamInt, Required: true},
//			{Name: "b", Kind: mcp.ParamInt, Required: true},
//		},
//		Handler: func(ctx context.Context, call *mcp.Call) (any, error) {
//			a, _ := call.Int("a")
//			b, _ := call.Int("b")
//			return a + b, nil
//		},
//	})
//
//	srv, err := mcpbridge.NewServer(&mcpbridge.Config{
//		ServerName: "calculator",
//		Issuer:     "https://mcp.example.com",
//		Registry:   registry,
//		Verifier:   verifier,
//	})
//
// srv.Handler() serves POST /mcp plus, when an upstream provider is
// configured, the /oauth/* endpoints and the well-known metadata
// documents.
package mcpbridge
