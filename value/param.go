package value

// Param is a named value with a declared type tag and an optional default.
//
// Params travel with every action call. The declared type comes from the
// service contract and does not have to match the provided value exactly:
// resolution coerces the value to the declared type, and absent values
// resolve to the default or to the type's zero value.
type Param struct {
	name   string
	value  Value
	typ    Kind
	def    Value
	hasDef bool
	exists bool
}

// NewParam creates a param whose type is inferred from the value.
func NewParam(name string, v Value) Param {
	return Param{name: name, value: v, typ: v.Kind(), exists: true}
}

// NewTypedParam creates a param with an explicit declared type.
func NewTypedParam(name string, kind Kind, v Value) Param {
	return Param{name: name, value: v, typ: kind, exists: true}
}

// NewEmptyParam creates a param for a value that is absent from the call.
func NewEmptyParam(name string, kind Kind) Param {
	return Param{name: name, typ: kind}
}

// WithDefault returns a copy of the param with a default value used when
// the actual value is absent.
func (p Param) WithDefault(v Value) Param {
	p.def = v
	p.hasDef = true
	return p
}

// WithValue returns a copy of the param carrying a new value.
func (p Param) WithValue(v Value) Param {
	p.value = v
	p.exists = true
	return p
}

// Name returns the parameter name.
func (p Param) Name() string { return p.name }

// Type returns the declared type of the parameter.
func (p Param) Type() Kind { return p.typ }

// Exists reports whether a value was provided in the service call.
func (p Param) Exists() bool { return p.exists }

// GetValue resolves the parameter value.
//
// Absent or untyped values never fail: they resolve to the default when one
// was supplied, or to the zero value of the declared type. A provided value
// that cannot be coerced to the declared type fails with *TypeError.
func (p Param) GetValue() (Value, error) {
	if !p.exists || p.value.IsNull() {
		if p.hasDef {
			return p.def, nil
		}
		return Zero(p.typ), nil
	}
	return Coerce(p.value, p.typ)
}

// ParamData is the wire form of a parameter.
type ParamData struct {
	Name  string `msgpack:"n"`
	Value any    `msgpack:"v"`
	Type  string `msgpack:"t,omitempty"`
}

// ToData converts the param to its wire form.
func (p Param) ToData() ParamData {
	return ParamData{
		Name:  p.name,
		Value: p.value.Raw(),
		Type:  p.typ.String(),
	}
}

// ParamFromData restores a param from its wire form.
func ParamFromData(data ParamData) Param {
	v := Of(data.Value)
	kind := KindOf(data.Type)
	if kind == KindUnknown {
		kind = v.Kind()
	}
	return Param{name: data.Name, value: v, typ: kind, exists: true}
}
