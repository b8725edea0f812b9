package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserr "github.com/reposage/reposage/internal/errors"
)

func entityByQN(r *Result, qn string) *Entity {
	for i := range r.Entities {
		if r.Entities[i].QualifiedName == qn {
			return &r.Entities[i]
		}
	}
	return nil
}

func hasRelation(r *Result, typ, from, to string) bool {
	for _, rel := range r.Relations {
		if rel.Type == typ && rel.FromQN == from && rel.ToQN == to {
			return true
		}
	}
	return false
}

func TestBridgeSupports(t *testing.T) {
	b := NewBridge()
	assert.True(t, b.Supports("python"))
	assert.True(t, b.Supports("javascript"))
	assert.True(t, b.Supports("typescript"))
	assert.False(t, b.Supports("cobol"))
	assert.False(t, b.Supports(""))
}

func TestParsePythonFunctionsAndClasses(t *testing.T) {
	src := []byte(`import os
from collections import OrderedDict

class Animal:
    def speak(self):
        return "..."

class Dog(Animal):
    def speak(self):
        if self.mood == "good":
            return "woof"
        return "grr"

def make_dog(name):
    d = Dog()
    d.speak()
    return d
`)
	b := NewBridge()
	result, err := b.Parse("zoo/animals.py", "python", src)
	require.NoError(t, err)

	animal := entityByQN(result, "zoo/animals.py::Animal")
	require.NotNil(t, animal)
	assert.Equal(t, KindClass, animal.Kind)
	assert.Equal(t, "Animal", animal.SimpleName)

	dog := entityByQN(result, "zoo/animals.py::Dog")
	require.NotNil(t, dog)
	assert.True(t, hasRelation(result, "INHERITS", "zoo/animals.py::Dog", "zoo/animals.py::Animal"))

	speak := entityByQN(result, "zoo/animals.py::Dog.speak")
	require.NotNil(t, speak)
	assert.True(t, speak.IsMethod)
	assert.Equal(t, 2, speak.Complexity)

	maker := entityByQN(result, "zoo/animals.py::make_dog")
	require.NotNil(t, maker)
	assert.False(t, maker.IsMethod)
	assert.Equal(t, []string{"name"}, maker.Parameters)
	assert.True(t, hasRelation(result, "USES", "zoo/animals.py::make_dog", "zoo/animals.py::Dog"))

	// Imports become module nodes linked from the file.
	assert.True(t, hasRelation(result, "IMPORTS", "zoo/animals.py", "os"))
	assert.True(t, hasRelation(result, "IMPORTS", "zoo/animals.py", "collections"))

	// Every entity hangs off the file or a class.
	assert.True(t, hasRelation(result, "CONTAINS", "zoo/animals.py", "zoo/animals.py::Animal"))
	assert.True(t, hasRelation(result, "CONTAINS", "zoo/animals.py::Dog", "zoo/animals.py::Dog.speak"))
}

func TestParsePythonCallResolution(t *testing.T) {
	src := []byte(`def helper():
    pass

def work(items):
    helper()
    total = len(items)
    requests.get("http://x")
    return total
`)
	b := NewBridge()
	result, err := b.Parse("app/work.py", "python", src)
	require.NoError(t, err)

	// Local call resolves to the file-local definition.
	assert.True(t, hasRelation(result, "CALLS", "app/work.py::work", "app/work.py::helper"))

	var builtin, external bool
	for _, rel := range result.Relations {
		if rel.Type != "CALLS" || rel.FromQN != "app/work.py::work" {
			continue
		}
		if rel.ToQN == "len" {
			builtin = rel.External && rel.ExternalKind == "BuiltinFunction"
		}
		if rel.ToQN == "get" {
			external = rel.External && rel.ExternalKind == "ExternalFunction"
		}
	}
	assert.True(t, builtin, "len should resolve to a builtin")
	assert.True(t, external, "requests.get should resolve to an external function")
}

func TestParsePythonAttributes(t *testing.T) {
	src := []byte(`from abc import ABC
from dataclasses import dataclass

class Storage(ABC):
    pass

@dataclass
class Point:
    pass

class LoadError(Exception):
    pass

async def stream():
    yield 1
`)
	b := NewBridge()
	result, err := b.Parse("m.py", "python", src)
	require.NoError(t, err)

	storage := entityByQN(result, "m.py::Storage")
	require.NotNil(t, storage)
	assert.True(t, storage.IsAbstract)

	point := entityByQN(result, "m.py::Point")
	require.NotNil(t, point)
	assert.True(t, point.IsDataclass)

	loadErr := entityByQN(result, "m.py::LoadError")
	require.NotNil(t, loadErr)
	assert.True(t, loadErr.IsException)

	stream := entityByQN(result, "m.py::stream")
	require.NotNil(t, stream)
	assert.True(t, stream.IsAsync)
	assert.True(t, stream.HasYield)
}

func TestParsePythonComplexity(t *testing.T) {
	src := []byte(`def branchy(x):
    if x > 0:
        for i in range(x):
            while i > 0:
                i -= 1
    elif x < 0:
        pass
    return x and x > 1
`)
	b := NewBridge()
	result, err := b.Parse("c.py", "python", src)
	require.NoError(t, err)

	fn := entityByQN(result, "c.py::branchy")
	require.NotNil(t, fn)
	// base 1 + if + for + while + elif + boolean operator
	assert.Equal(t, 6, fn.Complexity)
}

func TestParseJavaScript(t *testing.T) {
	src := []byte(`import { fetch } from "./net.js";

class Base {}

class Widget extends Base {
  render() {
    if (this.dirty) {
      draw();
    }
  }
}

function draw() {}

const helper = (a, b) => a + b;
`)
	b := NewBridge()
	result, err := b.Parse("ui/widget.js", "javascript", src)
	require.NoError(t, err)

	widget := entityByQN(result, "ui/widget.js::Widget")
	require.NotNil(t, widget)
	assert.True(t, hasRelation(result, "INHERITS", "ui/widget.js::Widget", "ui/widget.js::Base"))

	render := entityByQN(result, "ui/widget.js::Widget.render")
	require.NotNil(t, render)
	assert.True(t, render.IsMethod)
	assert.Equal(t, 2, render.Complexity)
	assert.True(t, hasRelation(result, "CALLS", "ui/widget.js::Widget.render", "ui/widget.js::draw"))

	helper := entityByQN(result, "ui/widget.js::helper")
	require.NotNil(t, helper)
	assert.Equal(t, []string{"a", "b"}, helper.Parameters)

	assert.True(t, hasRelation(result, "IMPORTS", "ui/widget.js", "./net.js"))
}

func TestParseRejectsUnsupportedLanguage(t *testing.T) {
	b := NewBridge()
	_, err := b.Parse("x.rb", "ruby", []byte("puts 1"))
	require.Error(t, err)
	assert.Equal(t, rserr.KindParse, rserr.KindOf(err))
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestParseRejectsInvalidUTF8(t *testing.T) {
	b := NewBridge()
	_, err := b.Parse("x.py", "python", []byte{0xff, 0xfe, 0x00})
	require.Error(t, err)
	assert.Equal(t, rserr.KindParse, rserr.KindOf(err))
	assert.Contains(t, err.Error(), "not valid UTF-8")
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "a/b.py::C.m", qualify("a/b.py", "C.m"))
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "path", lastSegment("os.path"))
	assert.Equal(t, "os", lastSegment("os"))
}
