package scanner

import "testing"

func FuzzScanner(f *testing.F) {
	f.Add([]byte("<< /Type /Page >>"))
	f.Add([]byte("[ 1 2 3 ]"))
	f.Add([]byte("stream\n...data...\nendstream"))
	f.Add([]byte("(Hello World)"))
	f.Add([]byte("<AABBCC>"))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewObjectReader(New(data, Config{MaxStringLength: 1024}))
		for i := 0; i < 10000; i++ {
			if _, err := r.ReadObject(); err != nil {
				if r.Scanner().Position() >= r.Scanner().Len() {
					break
				}
			}
		}
	})
}
