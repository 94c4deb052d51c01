package device

import (
	"testing"
)

func TestPackedStrides(t *testing.T) {
	tests := []struct {
		name string
		dims []int
		want []int
	}{
		{"3d", []int{2, 3, 4}, []int{12, 4, 1}},
		{"2d", []int{5, 7}, []int{7, 1}},
		{"1d", []int{9}, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PackedStrides(tt.dims)
			if len(got) != len(tt.want) {
				t.Fatalf("PackedStrides(%v) = %v, want %v", tt.dims, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("PackedStrides(%v) = %v, want %v", tt.dims, got, tt.want)
				}
			}
		})
	}
}

func TestIsPacked(t *testing.T) {
	tests := []struct {
		name    string
		dims    []int
		strides []int
		want    bool
	}{
		{"packed 3d", []int{2, 3, 4}, []int{12, 4, 1}, true},
		{"padded outer", []int{2, 3, 4}, []int{16, 4, 1}, false},
		{"1d always packed", []int{8}, []int{1}, true},
		{"1d strided", []int{8}, []int{2}, false},
		{"permuted inner", []int{4, 3, 2}, []int{8, 1, 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := TensorLayout{DataType: Float32, Dims: tt.dims, Strides: tt.strides}
			if got := l.IsPacked(); got != tt.want {
				t.Fatalf("IsPacked(%v/%v) = %v, want %v", tt.dims, tt.strides, got, tt.want)
			}
		})
	}
}

func TestPackedDoesNotMutate(t *testing.T) {
	l := TensorLayout{DataType: Float32, Dims: []int{2, 3}, Strides: []int{5, 1}}
	p := l.Packed()
	if !p.IsPacked() {
		t.Fatal("Packed() result not packed")
	}
	if l.Strides[0] != 5 {
		t.Fatal("Packed() mutated the original layout")
	}
	p.Dims[0] = 99
	if l.Dims[0] != 2 {
		t.Fatal("Packed() shares dims with the original")
	}
}

func TestMemorySize(t *testing.T) {
	l := TensorLayout{DataType: Float32, Dims: []int{4, 3, 2}, Strides: []int{8, 1, 3}}
	got, err := l.MemorySize()
	if err != nil {
		t.Fatalf("MemorySize: %v", err)
	}
	// dims[0] * strides[0] * 4 bytes
	if want := 4 * 8 * 4; got != want {
		t.Fatalf("MemorySize = %d, want %d", got, want)
	}
}

func TestElementSize(t *testing.T) {
	for dt, want := range map[DataType]int{Float16: 2, Float32: 4, Float64: 8} {
		got, err := ElementSize(dt)
		if err != nil {
			t.Fatalf("ElementSize(%s): %v", dt, err)
		}
		if got != want {
			t.Fatalf("ElementSize(%s) = %d, want %d", dt, got, want)
		}
	}

	if _, err := ElementSize(DataType(99)); err == nil {
		t.Fatal("expected error for unknown data type")
	}
}

func TestLayoutValidate(t *testing.T) {
	bad := []TensorLayout{
		{DataType: Float32},
		{DataType: Float32, Dims: []int{2, 3}, Strides: []int{1}},
		{DataType: Float32, Dims: []int{0, 3}, Strides: []int{3, 1}},
		{DataType: Float32, Dims: []int{2, 3}, Strides: []int{3, 0}},
	}
	for i, l := range bad {
		if err := l.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
