// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sheetcraft/embwire/sheet"
)

// hostFunction builds the evaluator-side stub for one global function the
// host declared by signature. Calls to it round-trip to the host by name.
func (c *compilation) hostFunction(signature string) (*sheet.Function, *sheet.CompileError) {
	sig, err := sheet.ParseSignature(signature)
	if err != nil {
		return nil, &sheet.CompileError{Message: fmt.Sprintf("Invalid function signature %q: %v.", signature, err)}
	}
	return &sheet.Function{
		Name:      sig.Name,
		Signature: sig,
		Call: func(args []sheet.Value) (sheet.Value, error) {
			return c.callHost(sig.Name, false, 0, args)
		},
	}, nil
}

// functionForHostValue builds a callable stub for a first-class host
// function value, addressed by its handle.
func (c *compilation) functionForHostValue(hf sheet.HostFunction) (*sheet.Function, *sheet.CompileError) {
	sig, err := sheet.ParseSignature(hf.Signature)
	if err != nil {
		return nil, &sheet.CompileError{Message: fmt.Sprintf("Invalid function signature %q: %v.", hf.Signature, err)}
	}
	return &sheet.Function{
		Name:      sig.Name,
		Signature: sig,
		Call: func(args []sheet.Value) (sheet.Value, error) {
			return c.callHost(sig.Name, true, hf.Handle, args)
		},
	}, nil
}

// callBuiltin implements call($function, $args...), invoking a first-class
// function value. Host function values round-trip by handle.
func (c *compilation) callBuiltin() *sheet.Function {
	sig := &sheet.Signature{
		Name:      "call",
		Params:    []sheet.Parameter{{Name: "function"}},
		RestParam: "args",
	}
	return &sheet.Function{
		Name:      "call",
		Signature: sig,
		Call: func(args []sheet.Value) (sheet.Value, error) {
			target, ok := args[0].(sheet.HostFunction)
			if !ok {
				return nil, fmt.Errorf("$function: %s is not a host function reference", args[0].CSS())
			}
			fn, ferr := c.functionForHostValue(target)
			if ferr != nil {
				return nil, ferr
			}
			rest := args[1].(*sheet.ArgumentList)
			bound, _, err := sheet.BindArguments(fn.Signature, &sheet.Invocation{
				Positional: rest.Items,
				Named:      rest.Keywords,
				NamedOrder: rest.KeywordOrder,
			})
			if err != nil {
				return nil, err
			}
			return fn.Call(bound)
		},
	}
}

// callHost performs one function round trip and decodes the result.
func (c *compilation) callHost(name string, byHandle bool, handle uint32, args []sheet.Value) (sheet.Value, error) {
	wireArgs := make([][]byte, len(args))
	for i, arg := range args {
		b, err := c.codec.marshalValue(arg)
		if err != nil {
			return nil, err
		}
		wireArgs[i] = b
	}
	sentKeywordLists := c.codec.takeSentKeywordLists()

	msg, err := c.roundTrip(kindFunctionCallResponse, func(requestID uint32) *OutboundMessage {
		return &OutboundMessage{FunctionCallRequest: &FunctionCallRequest{
			ID:         requestID,
			Name:       name,
			FunctionID: handle,
			ByHandle:   byHandle,
			Arguments:  wireArgs,
		}}
	})
	if err != nil {
		return nil, err
	}
	resp := msg.FunctionCallResponse

	accessed := make(map[uint32]bool, len(resp.AccessedArgumentLists))
	for _, id := range resp.AccessedArgumentLists {
		if !c.codec.hasArgumentList(id) {
			return nil, fmt.Errorf("accessed argument list id %d does not match any list sent to the host", id)
		}
		accessed[id] = true
	}

	if resp.Error != nil {
		return nil, errors.New(*resp.Error)
	}
	if resp.Success == nil {
		return nil, errors.New("the function call response carries neither a value nor an error")
	}

	// A keyword-bearing rest argument whose keywords the host never looked
	// at means the caller passed names the function does not take.
	if err := c.checkUnusedKeywords(sentKeywordLists, accessed); err != nil {
		return nil, err
	}

	return c.codec.decodeValue(resp.Success)
}

func (c *compilation) checkUnusedKeywords(sent []uint32, accessed map[uint32]bool) error {
	var names []string
	for _, id := range sent {
		if accessed[id] {
			continue
		}
		list := c.codec.argumentList(id)
		if list == nil {
			continue
		}
		for _, name := range list.KeywordOrder {
			names = append(names, "$"+name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	if len(names) == 1 {
		return fmt.Errorf("No argument named %s.", names[0])
	}
	return fmt.Errorf("No arguments named %s.", joinSentence(names))
}

// joinSentence renders ["$a", "$b", "$c"] as "$a, $b and $c".
func joinSentence(names []string) string {
	if len(names) == 2 {
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
