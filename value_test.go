package checkpoint

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	Name    string            `json:"name"`
	Token   string            `json:"token,omitempty"`
	Skipped string            `json:"-"`
	Tags    []string          `json:"tags"`
	Extra   map[string]string `json:"extra"`
	secret  string
}

type linked struct {
	Name string
	Next *linked
}

type celsius float64

func (c celsius) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"celsius": float64(c)})
}

type opaqueHandle struct{ fd int }

func (opaqueHandle) String() string { return "handle" }

func TestFromAnyScalars(t *testing.T) {
	assert.True(t, FromAny(nil).IsNull())
	assert.Equal(t, KindBool, FromAny(true).Kind())
	assert.Equal(t, "42", FromAny(42).Text())
	assert.Equal(t, "42", FromAny(uint8(42)).Text())
	assert.Equal(t, "1.5", FromAny(1.5).Text())
	assert.Equal(t, "0.1", FromAny(float32(0.1)).Text())
	assert.Equal(t, KindString, FromAny("hi").Kind())
	assert.Equal(t, "aGk=", FromAny([]byte("hi")).Text())
	assert.True(t, FromAny((*account)(nil)).IsNull())
}

func TestFromAnyStructUsesExportedFieldsAndTags(t *testing.T) {
	v := FromAny(account{
		Name:    "ada",
		Skipped: "nope",
		Tags:    []string{"a", "b"},
		Extra:   map[string]string{"k": "v"},
		secret:  "hidden",
	})

	require.Equal(t, KindMapping, v.Kind())
	assert.Equal(t, []string{"extra", "name", "tags", "token"}, v.Keys())
	tags, _ := v.Get("tags")
	assert.Equal(t, 2, tags.Len())
	assert.Equal(t, "b", tags.Index(1).Text())
}

func TestFromAnyCopiesCallerData(t *testing.T) {
	props := map[string]any{"list": []any{"x"}}
	v := FromAny(props)

	props["list"].([]any)[0] = "mutated"
	props["added"] = true

	list, _ := v.Get("list")
	assert.Equal(t, "x", list.Index(0).Text())
	_, ok := v.Get("added")
	assert.False(t, ok)
}

func TestFromAnyBreaksCycles(t *testing.T) {
	m := map[string]any{"name": "loop"}
	m["self"] = m
	v := FromAny(m)
	self, _ := v.Get("self")
	assert.Equal(t, KindOpaque, self.Kind())
	assert.Equal(t, CircularMarker, self.Text())

	a := &linked{Name: "a"}
	a.Next = &linked{Name: "b", Next: a}
	v = FromAny(a)
	next, _ := v.Get("Next")
	back, _ := next.Get("Next")
	assert.Equal(t, CircularMarker, back.Text())
}

func TestFromAnyRepeatedReferenceIsNotCircular(t *testing.T) {
	shared := map[string]any{"v": 1}
	v := FromAny([]any{shared, shared})
	assert.Equal(t, KindMapping, v.Index(0).Kind())
	assert.Equal(t, KindMapping, v.Index(1).Kind())
}

func TestFromAnyFunctions(t *testing.T) {
	v := FromAny(func() {})
	assert.Equal(t, KindOpaque, v.Kind())
	assert.Equal(t, FunctionMarker, v.Text())

	v = FromAny(strings.ToUpper)
	assert.Equal(t, NativeFunctionMarker, v.Text())

	v = FromAny(make(chan int))
	assert.Equal(t, NativeFunctionMarker, v.Text())
}

func TestFromAnySerializationHooks(t *testing.T) {
	v := FromAny(celsius(21.5))
	c, ok := v.Get("celsius")
	require.True(t, ok)
	assert.Equal(t, "21.5", c.Text())

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-01-02T03:04:05Z", FromAny(ts).Text())

	assert.Equal(t, "handle", FromAny(opaqueHandle{fd: 3}).Text())

	assert.Equal(t, "boom", FromAny(errors.New("boom")).Text())
}

func TestValueJSON(t *testing.T) {
	v := Map(map[string]Value{
		"n":    Int(7),
		"f":    Number("1e3"),
		"s":    String("x"),
		"list": Seq(Bool(true), Null()),
		"fn":   Opaque(FunctionMarker),
	})

	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7,"f":1e3,"s":"x","list":[true,null],"fn":"[function]"}`, string(data))

	var back Value
	require.NoError(t, sonic.Unmarshal([]byte(`{"n":7,"nested":{"big":12345678901234567890}}`), &back))
	n, _ := back.Get("n")
	assert.Equal(t, KindNumber, n.Kind())
	nested, _ := back.Get("nested")
	big, _ := nested.Get("big")
	assert.Equal(t, "12345678901234567890", big.Text())
}

func TestNumberRejectsNonNumericText(t *testing.T) {
	assert.Equal(t, KindString, Number("abc").Kind())
	assert.Equal(t, KindNumber, Number("-0.25").Kind())
	assert.Equal(t, KindString, Number("NaN").Kind())
	assert.Equal(t, KindString, Number("1e400").Kind())
}

func TestNonFiniteFloatsBecomeStrings(t *testing.T) {
	v := FromAny(map[string]any{
		"nan":  math.NaN(),
		"pos":  math.Inf(1),
		"neg":  float32(math.Inf(-1)),
		"fine": 2.5,
	})

	nan, _ := v.Get("nan")
	pos, _ := v.Get("pos")
	neg, _ := v.Get("neg")
	assert.Equal(t, KindString, nan.Kind())
	assert.Equal(t, "NaN", nan.Text())
	assert.Equal(t, "+Inf", pos.Text())
	assert.Equal(t, "-Inf", neg.Text())

	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nan":"NaN","pos":"+Inf","neg":"-Inf","fine":2.5}`, string(data))
}

func TestValueEqual(t *testing.T) {
	a := FromAny(map[string]any{"x": []int{1, 2}})
	b := FromAny(map[string]any{"x": []int{1, 2}})
	c := FromAny(map[string]any{"x": []int{1, 3}})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, String("1").Equal(Int(1)))
}
