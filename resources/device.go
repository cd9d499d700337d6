package resources

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/hal"
	"github.com/jasta/coaphald/observe"
)

// deviceJSON/attributeJSON/attributeValueJSON mirror device_resource.rs's
// Device/Attribute/AttributeValue serde types; json-iterator marshals
// them for the common case, while attribute writes go through gjson/sjson
// instead of a typed struct (see handlePutAttributes) since the original
// Rust code treats attribute values as untyped JSON already.
type deviceJSON struct {
	TypeName   string          `json:"type_name"`
	DriverName string          `json:"driver_name"`
	Address    string          `json:"address"`
	Attributes []attributeJSON `json:"attributes"`
}

type attributeJSON struct {
	TypeName   string `json:"type_name"`
	Name       string `json:"name"`
	IsReadable bool   `json:"is_readable"`
	IsWritable bool   `json:"is_writable"`
}

func deviceToJSON(d hal.Device) (deviceJSON, error) {
	attrs, err := d.ApplicableAttributes()
	if err != nil {
		return deviceJSON{}, err
	}
	out := deviceJSON{
		TypeName:   d.Type().String(),
		DriverName: d.DriverName(),
		Address:    d.Address(),
		Attributes: make([]attributeJSON, 0, len(attrs)),
	}
	for _, a := range attrs {
		out.Attributes = append(out.Attributes, attributeToJSON(a))
	}
	return out, nil
}

func attributeToJSON(a hal.Attribute) attributeJSON {
	typeName := attributeTypeName(a.DataType)
	if a.IsArray {
		typeName = "[" + typeName + "]"
	}
	return attributeJSON{
		TypeName:   typeName,
		Name:       a.Name,
		IsReadable: a.IsReadable,
		IsWritable: a.IsWritable,
	}
}

func attributeTypeName(t hal.AttributeType) string {
	switch t {
	case hal.Int8, hal.Int16, hal.Int32, hal.Int64:
		return "int" + bitsOf(t)
	case hal.UInt8, hal.UInt16, hal.UInt32, hal.UInt64:
		return "int" + bitsOf(t)
	case hal.Float32:
		return "float"
	case hal.Float64:
		return "double"
	default:
		return "string"
	}
}

func bitsOf(t hal.AttributeType) string {
	switch t {
	case hal.Int8, hal.UInt8:
		return "8"
	case hal.Int16, hal.UInt16:
		return "16"
	case hal.Int32, hal.UInt32:
		return "32"
	default:
		return "64"
	}
}

// attributeValueJSON returns one attribute's current value rendered as
// JSON, using gjson/sjson to assemble the object rather than a typed
// struct, since the value's JSON type varies by attribute (number vs
// string vs array) and is easiest expressed as raw JSON surgery the way
// the teacher repo uses these two libraries for REST payload rewriting.
func attributeValueJSON(d hal.Device, a hal.Attribute) ([]byte, error) {
	raw, err := d.GetAttributeStr(a.Name)
	if err != nil {
		return nil, err
	}

	doc := `{}`
	doc, err = sjson.Set(doc, "name", a.Name)
	if err != nil {
		return nil, fmt.Errorf("set name: %w", err)
	}

	if a.IsArray {
		parts := strings.Fields(raw)
		doc, err = sjson.SetRaw(doc, "value", "[]")
		if err != nil {
			return nil, fmt.Errorf("init value array: %w", err)
		}
		for _, p := range parts {
			doc, err = sjson.Set(doc, "value.-1", convertAttributeScalar(a.DataType, p))
			if err != nil {
				return nil, fmt.Errorf("append value: %w", err)
			}
		}
	} else {
		doc, err = sjson.Set(doc, "value", convertAttributeScalar(a.DataType, raw))
		if err != nil {
			return nil, fmt.Errorf("set value: %w", err)
		}
	}
	return []byte(doc), nil
}

// convertAttributeScalar converts raw to whatever Go value sjson.Set will
// render as the matching JSON type (number vs string), mirroring
// AttributeValue::convert_value.
func convertAttributeScalar(t hal.AttributeType, raw string) interface{} {
	switch t {
	case hal.Int8, hal.Int16, hal.Int32, hal.Int64, hal.UInt8, hal.UInt16, hal.UInt32, hal.UInt64, hal.Float32, hal.Float64:
		return gjson.Parse(raw).Value()
	default:
		return raw
	}
}

// Device implements GET and PUT against a single hardware device and its
// attributes, plus RFC 7641 observation of attribute changes. Grounded on
// handle_single_device/handle_single_device_get/handle_single_device_put.
// It satisfies observe.ObservableResource so the transport layer can
// register a subscription directly against it.
type Device struct {
	Hal    hal.Hal
	Sender observe.Sender

	holders sync.Map // path string -> *observe.ObserversHolder
}

func (d *Device) RelativePath() string { return "device" }
func (d *Device) DebugName() string    { return "DeviceResource" }
func (d *Device) IsDiscoverable() bool { return true }

func (d *Device) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w.Attr("rt", "device")
}

func (d *Device) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	if len(remaining) == 0 {
		return coreapi.BadRequest("Missing address")
	}
	address := remaining[0]
	attrPath := remaining[1:]

	device, found, err := d.Hal.ByAddress(address)
	if err != nil {
		return coreapi.Internal(err)
	}
	if !found {
		return coreapi.NotFound()
	}

	switch req.Code {
	case codes.GET:
		return d.handleGet(req, resp, device, attrPath)
	case codes.PUT:
		hErr := d.handlePut(req, resp, device, attrPath)
		if hErr == nil {
			d.notifyChange(remaining)
		}
		return hErr
	default:
		return coreapi.MethodNotAllowed()
	}
}

func (d *Device) handleGet(req *coreapi.Request, resp *coreapi.Response, device hal.Device, attrPath coreapi.Path) *coreapi.HandlingError {
	payload, hErr := renderDevicePath(device, attrPath)
	if hErr != nil {
		return hErr
	}
	return encodeResponse(req, resp, payload)
}

// notifyChange pushes the current representation of remaining to any
// observer holder that already exists for it, mirroring the synchronous
// PUT-triggers-notification path of handle_single_device_put (a write a
// client made itself is reflected to its other observing peers
// immediately, not only once the background watch thread notices).
func (d *Device) notifyChange(remaining coreapi.Path) {
	v, ok := d.holders.Load(remaining.String())
	if !ok {
		return
	}
	holder := v.(*observe.ObserversHolder)
	if holder.Count() == 0 {
		return
	}
	resp, hErr := d.Render(remaining)
	if hErr != nil {
		return
	}
	holder.NotifyAll(resp)
}

// HolderFor implements observe.ObservableResource: one holder per
// resource-relative observed path, created on first use.
func (d *Device) HolderFor(remaining coreapi.Path) *observe.ObserversHolder {
	key := remaining.String()
	if v, ok := d.holders.Load(key); ok {
		return v.(*observe.ObserversHolder)
	}
	holder := observe.NewObserversHolder(d.Sender, "device:"+key)
	actual, _ := d.holders.LoadOrStore(key, holder)
	return actual.(*observe.ObserversHolder)
}

// StartWatch implements observe.ObservableResource: it resolves remaining
// down to the concrete attribute name(s) being observed and asks the HAL
// to watch exactly those, the same narrowing handle_single_device's
// observable variants perform before calling watch_attributes.
func (d *Device) StartWatch(remaining coreapi.Path) (observe.WatchSource, error) {
	if len(remaining) == 0 {
		return nil, fmt.Errorf("cannot observe device collection root")
	}
	address := remaining[0]
	attrPath := remaining[1:]

	device, found, err := d.Hal.ByAddress(address)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("device not found: %s", address)
	}

	names, err := attributeNamesForWatch(device, attrPath)
	if err != nil {
		return nil, err
	}
	return device.WatchAttributes(names)
}

// Render implements observe.ObservableResource: it produces the same
// representation a plain GET of remaining would, used both for
// PUT-triggered notifications and for the background watch's fan-out.
func (d *Device) Render(remaining coreapi.Path) (*coreapi.Response, *coreapi.HandlingError) {
	if len(remaining) == 0 {
		return nil, coreapi.BadRequest("Missing address")
	}
	address := remaining[0]
	attrPath := remaining[1:]

	device, found, err := d.Hal.ByAddress(address)
	if err != nil {
		return nil, coreapi.Internal(err)
	}
	if !found {
		return nil, coreapi.NotFound()
	}

	payload, hErr := renderDevicePath(device, attrPath)
	if hErr != nil {
		return nil, hErr
	}
	return &coreapi.Response{
		Code:          codes.Content,
		ContentFormat: message.AppJSON,
		Payload:       payload,
	}, nil
}

// attributeNamesForWatch resolves an observed attrPath down to the
// concrete attribute name(s) to watch: no attribute path (observing the
// whole device) or a bare "attributes" watches every applicable
// attribute; "attributes/<name>[,<name>...]" watches exactly those.
func attributeNamesForWatch(device hal.Device, attrPath coreapi.Path) ([]string, error) {
	if len(attrPath) >= 2 && attrPath[0] == "attributes" {
		return strings.Split(attrPath[1], ","), nil
	}
	all, err := device.ApplicableAttributes()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = a.Name
	}
	return names, nil
}

func (d *Device) handlePut(req *coreapi.Request, resp *coreapi.Response, device hal.Device, attrPath coreapi.Path) *coreapi.HandlingError {
	if len(attrPath) > 0 && attrPath[0] != "attributes" {
		return coreapi.NotFound()
	}

	var values []attributeValueInput
	if err := jsoniter.Unmarshal(req.Payload, &values); err != nil {
		return coreapi.BadRequest("malformed attribute value array: " + err.Error())
	}

	for _, v := range values {
		valueStr, err := scalarToHalString(v.Value)
		if err != nil {
			return coreapi.BadRequest(err.Error())
		}
		if err := device.SetAttributeStr(v.Name, valueStr); err != nil {
			return coreapi.Internal(err)
		}
	}

	resp.Code = codes.Changed
	return nil
}

type attributeValueInput struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

func scalarToHalString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return gjson.Parse(fmt.Sprintf("%v", t)).String(), nil
	default:
		return "", fmt.Errorf("can't serialize %v", v)
	}
}

// renderDevicePath answers the GET side of handle_single_device_get: no
// remaining path renders the device itself; "attributes"[/name[,name]]
// renders one or more attribute values.
func renderDevicePath(device hal.Device, attrPath coreapi.Path) ([]byte, *coreapi.HandlingError) {
	if len(attrPath) == 0 {
		doc, err := deviceToJSON(device)
		if err != nil {
			return nil, coreapi.Internal(err)
		}
		payload, err := jsoniter.Marshal(doc)
		if err != nil {
			return nil, coreapi.Internal(err)
		}
		return payload, nil
	}
	if attrPath[0] != "attributes" {
		return nil, coreapi.NotFound()
	}

	all, err := device.ApplicableAttributes()
	if err != nil {
		return nil, coreapi.Internal(err)
	}

	if len(attrPath) == 1 {
		return renderAttributeValues(device, all)
	}

	names := strings.Split(attrPath[1], ",")
	if len(names) > 1 {
		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
		var filtered []hal.Attribute
		for _, a := range all {
			if wanted[a.Name] {
				filtered = append(filtered, a)
			}
		}
		return renderAttributeValues(device, filtered)
	}

	for _, a := range all {
		if a.Name == attrPath[1] {
			payload, err := attributeValueJSON(device, a)
			if err != nil {
				return nil, coreapi.Internal(err)
			}
			return payload, nil
		}
	}
	return nil, coreapi.NotFound()
}

func renderAttributeValues(device hal.Device, attrs []hal.Attribute) ([]byte, *coreapi.HandlingError) {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		payload, err := attributeValueJSON(device, a)
		if err != nil {
			return nil, coreapi.Internal(err)
		}
		parts = append(parts, string(payload))
	}
	return []byte("[" + strings.Join(parts, ",") + "]"), nil
}

// encodeResponse content-negotiates between JSON (default) and CBOR,
// honouring the client's Accept option.
func encodeResponse(req *coreapi.Request, resp *coreapi.Response, jsonPayload []byte) *coreapi.HandlingError {
	resp.Code = codes.Content
	if acceptsCBOR(req.Options) {
		var generic interface{}
		if err := jsoniter.Unmarshal(jsonPayload, &generic); err != nil {
			return coreapi.Internal(err)
		}
		cborPayload, err := cbor.Marshal(generic)
		if err != nil {
			return coreapi.Internal(err)
		}
		resp.ContentFormat = message.AppCBOR
		resp.Payload = cborPayload
		return nil
	}
	resp.ContentFormat = message.AppJSON
	resp.Payload = jsonPayload
	return nil
}

func acceptsCBOR(opts message.Options) bool {
	for _, o := range opts {
		if o.ID != message.Accept {
			continue
		}
		var v uint32
		for _, b := range o.Value {
			v = v<<8 | uint32(b)
		}
		if message.MediaType(v) == message.AppCBOR {
			return true
		}
	}
	return false
}
