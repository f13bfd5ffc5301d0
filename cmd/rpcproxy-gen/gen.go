package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"log"
	"os"
	"strings"
)

var (
	inputFile     = flag.String("input", "", "Go file containing the interface")
	interfaceName = flag.String("interface", "", "Name of the interface to generate a typed client for")
	outputFile    = flag.String("output", "rpcproxy_gen.go", "Output file")
)

// rpcproxy-gen emits a typed wrapper over rpc.Client for one service
// interface. Methods shaped `M(ctx, *Req) (*Resp, error)` become unary
// calls, methods shaped `M(ctx, *Req) (rpc.Stream, error)` become
// stream opens.
func main() {
	flag.Parse()

	if *inputFile == "" || *interfaceName == "" {
		log.Fatal("input and interface flags are required")
	}

	src, err := os.ReadFile(*inputFile)
	if err != nil {
		log.Fatalf("failed to read input file: %v", err)
	}

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, *inputFile, src, parser.AllErrors)
	if err != nil {
		log.Fatalf("failed to parse input: %v", err)
	}

	packageName := node.Name.Name
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "package %s\n\n", packageName)
	fmt.Fprintf(&buf, "import (\n\t\"context\"\n\t\"github.com/yingshulu/rpcproxy/rpc\"\n)\n\n")

	ast.Inspect(node, func(n ast.Node) bool {
		typeSpec, ok := n.(*ast.TypeSpec)
		if !ok || typeSpec.Name.Name != *interfaceName {
			return true
		}
		iface, ok := typeSpec.Type.(*ast.InterfaceType)
		if !ok {
			log.Fatalf("%s is not an interface", *interfaceName)
		}

		clientName := *interfaceName + "Client"
		fmt.Fprintf(&buf, "type %s struct {\n\tclient *rpc.Client\n}\n\n", clientName)
		fmt.Fprintf(&buf, "func New%s(client *rpc.Client) *%s {\n\treturn &%s{client: client}\n}\n\n", clientName, clientName, clientName)

		for _, method := range iface.Methods.List {
			if len(method.Names) == 0 {
				continue
			}
			name := method.Names[0].Name
			sig, ok := method.Type.(*ast.FuncType)
			if !ok || !isExported(name) || sig.Params.NumFields() < 2 || sig.Results.NumFields() != 2 {
				continue
			}
			req := exprString(sig.Params.List[1].Type)
			res := exprString(sig.Results.List[0].Type)

			if res == "rpc.Stream" {
				generateStreamMethod(&buf, clientName, name, req)
			} else {
				generateUnaryMethod(&buf, clientName, name, req, res)
			}
		}
		return false
	})

	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		log.Fatalf("failed to format generated code: %v", err)
	}
	if err := os.WriteFile(*outputFile, formatted, 0644); err != nil {
		log.Fatalf("failed to write output file: %v", err)
	}
	fmt.Printf("Generated client written to %s\n", *outputFile)
}

func exprString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return exprString(e.X) + "." + e.Sel.Name
	case *ast.StarExpr:
		return "*" + exprString(e.X)
	case *ast.ArrayType:
		return "[]" + exprString(e.Elt)
	default:
		return fmt.Sprintf("%#v", expr)
	}
}

func generateUnaryMethod(buf *bytes.Buffer, clientName, methodName, req, res string) {
	fmt.Fprintf(buf, "func (c *%s) %s(ctx context.Context, req %s) (%s, error) {\n", clientName, methodName, req, res)
	if strings.HasPrefix(res, "*") {
		fmt.Fprintf(buf, "\tres := new(%s)\n", res[1:])
		fmt.Fprintf(buf, "\terr := c.client.Call(ctx, \"%s\", req, res)\n", methodName)
	} else {
		fmt.Fprintf(buf, "\tvar res %s\n", res)
		fmt.Fprintf(buf, "\terr := c.client.Call(ctx, \"%s\", req, &res)\n", methodName)
	}
	fmt.Fprintf(buf, "\treturn res, err\n")
	fmt.Fprintf(buf, "}\n\n")
}

func generateStreamMethod(buf *bytes.Buffer, clientName, methodName, req string) {
	fmt.Fprintf(buf, "func (c *%s) %s(ctx context.Context, req %s) (rpc.Stream, error) {\n", clientName, methodName, req)
	fmt.Fprintf(buf, "\treturn c.client.Open(ctx, \"%s\", req)\n", methodName)
	fmt.Fprintf(buf, "}\n\n")
}

func isExported(name string) bool {
	return name[0] >= 'A' && name[0] <= 'Z'
}
